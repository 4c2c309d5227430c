package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omnihq/beacon-client/internal/protocol/wire"
)

// probePath is the well-known pairing-info path used to identify a gateway.
const probePath = "/api/pair/info"

// defaultProbeTimeout bounds a single probe attempt.
const defaultProbeTimeout = 2 * time.Second

// Prober checks whether a candidate URL is a live gateway and extracts its
// metadata.
type Prober struct {
	client *http.Client
}

// NewProber creates a Prober with the default timeout.
func NewProber() *Prober {
	return &Prober{client: &http.Client{Timeout: defaultProbeTimeout}}
}

// Probe performs a GET against the candidate's pairing-info endpoint. Any
// network failure, non-2xx status, or unparseable body is a probe failure.
func (p *Prober) Probe(ctx context.Context, baseURL string, source Source) (Gateway, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+probePath, nil)
	if err != nil {
		return Gateway{}, fmt.Errorf("invalid gateway URL %q: %w", baseURL, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Gateway{}, fmt.Errorf("gateway unreachable at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Gateway{}, fmt.Errorf("gateway probe failed at %s: %s", baseURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Gateway{}, fmt.Errorf("failed to read probe response: %w", err)
	}

	var info wire.PairInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return Gateway{}, fmt.Errorf("invalid probe response from %s: %w", baseURL, err)
	}
	if info.DeviceID == "" {
		return Gateway{}, fmt.Errorf("invalid probe response from %s: missing device_id", baseURL)
	}

	return Gateway{
		ID:           info.DeviceID,
		URL:          baseURL,
		Name:         info.Name,
		Version:      info.Version,
		Persona:      info.Persona,
		Voice:        info.Voice,
		TLS:          strings.HasPrefix(baseURL, "https://"),
		Source:       source,
		DiscoveredAt: time.Now(),
	}, nil
}

// NormalizeURL canonicalizes a user-entered gateway URL: the scheme defaults
// to plain http and any trailing slash is stripped.
func NormalizeURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/")
}
