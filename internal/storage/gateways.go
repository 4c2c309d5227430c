package storage

import (
	"strings"
	"time"
)

// MaxSavedGateways bounds the saved-gateway list; the oldest entry is dropped
// when the list is full.
const MaxSavedGateways = 10

// SavedGateway is a durable record of a previously seen gateway, keyed by the
// gateway-reported device id.
type SavedGateway struct {
	// ID is the gateway's own device id as reported by its probe endpoint.
	ID string `json:"id"`
	// URL is the normalized base URL the gateway was reached at.
	URL string `json:"url"`
	// Name is the gateway's display name.
	Name string `json:"name"`
	// Version is the gateway software version.
	Version string `json:"version"`
	// Persona is the gateway's active persona at discovery time.
	Persona string `json:"persona,omitempty"`
	// Voice reports whether the gateway supports voice.
	Voice bool `json:"voice,omitempty"`
	// TLS reports whether the gateway was reached over https.
	TLS bool `json:"tls,omitempty"`
	// Source records how the gateway was discovered (broadcast|manual|saved).
	Source string `json:"source"`
	// Token is the bearer token obtained from pairing, when present. Only the
	// last-used record normally carries one.
	Token string `json:"token,omitempty"`
	// SavedAtMs is the wall-clock timestamp of the most recent write.
	SavedAtMs int64 `json:"savedAtMs"`
}

// LoadGateways reads the saved-gateway list. A missing file is an empty list.
func (s *Store) LoadGateways() ([]SavedGateway, error) {
	var list []SavedGateway
	if _, err := s.loadJSON(s.gatewaysPath, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveGateway inserts or updates a saved-gateway entry, de-duplicated by id.
// The list is bounded at MaxSavedGateways; the oldest entry falls off.
func (s *Store) SaveGateway(gw SavedGateway) error {
	if strings.TrimSpace(gw.ID) == "" {
		return nil
	}
	list, err := s.LoadGateways()
	if err != nil {
		return err
	}

	gw.SavedAtMs = time.Now().UnixMilli()

	updated := make([]SavedGateway, 0, len(list)+1)
	for _, existing := range list {
		if existing.ID != gw.ID {
			updated = append(updated, existing)
			continue
		}
		// Refreshes from discovery probes carry no token; the pairing
		// credential must survive them.
		if gw.Token == "" {
			gw.Token = existing.Token
		}
	}
	updated = append(updated, gw)
	if len(updated) > MaxSavedGateways {
		updated = updated[len(updated)-MaxSavedGateways:]
	}
	return s.saveJSON(s.gatewaysPath, updated)
}

// LoadLastGateway reads the last-used gateway record. ok is false when none
// has been recorded.
func (s *Store) LoadLastGateway() (gw SavedGateway, ok bool, err error) {
	ok, err = s.loadJSON(s.lastGatewayPath, &gw)
	if err != nil {
		return SavedGateway{}, false, err
	}
	return gw, ok, nil
}

// SaveLastGateway records the last-used gateway. A tokenless update for the
// same gateway keeps the previously stored token, so reconnecting does not
// discard the pairing credential.
func (s *Store) SaveLastGateway(gw SavedGateway) error {
	if gw.Token == "" {
		if existing, ok, err := s.LoadLastGateway(); err == nil && ok && existing.ID == gw.ID {
			gw.Token = existing.Token
		}
	}
	gw.SavedAtMs = time.Now().UnixMilli()
	return s.saveJSON(s.lastGatewayPath, gw)
}
