package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/omnihq/beacon-client/internal/storage"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// loopbackCandidates are tried as a development fallback when no gateway has
// been used before. 18790 is the gateway's default local port.
var loopbackCandidates = []string{
	"http://localhost:18790",
	"http://127.0.0.1:18790",
}

// hostedGatewayID is the synthetic registry id used in hosted mode.
const hostedGatewayID = "hosted"

// Found is a broadcast-discovery event delivered by the platform layer.
type Found struct {
	DeviceID string
	Name     string
	Host     string
	Port     int
	Version  string
	Persona  string
	Voice    bool
	TLS      bool
}

// BroadcastSource is a platform-provided stream of broadcast-discovery
// events. The channel closes when the platform stops the listener.
type BroadcastSource interface {
	Events() <-chan Found
}

// Options configures a Discovery.
type Options struct {
	// HostedURL, when set, puts discovery in hosted mode: StartDiscovery
	// skips probing and reports Connected against the hosted endpoint.
	HostedURL string
	// Broadcast is the optional platform broadcast-discovery source.
	Broadcast BroadcastSource
	// Sidecar, when set, is spawned as a last resort if no candidate
	// gateway answers during StartDiscovery. Close stops it.
	Sidecar *Sidecar
	// Prober overrides the default prober. Nil means NewProber().
	Prober *Prober
}

// Discovery finds reachable gateways and owns the ConnectionState.
//
// StartDiscovery, ConnectTo, and Disconnect are serialized internally: both
// mutate the single state value and the registry, so only one is logically in
// flight at a time. Subscribers observe every transition, in order, before
// the mutating call returns.
type Discovery struct {
	store  *storage.Store
	prober *Prober

	hostedURL string
	broadcast BroadcastSource
	sidecar   *Sidecar

	// opMu serializes the mutating operations.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int

	registry *Registry

	pumpOnce  sync.Once
	pumpStop  chan struct{}
	closeOnce sync.Once
}

// NewDiscovery creates a Discovery in the Disconnected state.
func NewDiscovery(store *storage.Store, opts Options) *Discovery {
	prober := opts.Prober
	if prober == nil {
		prober = NewProber()
	}
	return &Discovery{
		store:     store,
		prober:    prober,
		hostedURL: NormalizeURL(opts.HostedURL),
		broadcast: opts.Broadcast,
		sidecar:   opts.Sidecar,
		state:     State{Status: StatusDisconnected},
		subs:      make(map[int]func(State)),
		registry:  NewRegistry(),
		pumpStop:  make(chan struct{}),
	}
}

// Current returns the current connection state.
func (d *Discovery) Current() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Gateways returns a snapshot of the discovered-gateway registry.
func (d *Discovery) Gateways() []Gateway {
	return d.registry.List()
}

// Subscribe registers a state listener. The current state is replayed
// synchronously before Subscribe returns, so a new subscriber never observes
// a stale state. The returned function cancels the subscription.
//
// Listeners are invoked synchronously on the transitioning goroutine and must
// not call back into Discovery's mutating operations.
func (d *Discovery) Subscribe(fn func(State)) (cancel func()) {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	current := d.state
	d.mu.Unlock()

	fn(current)

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// setState applies a transition and notifies every subscriber before
// returning.
func (d *Discovery) setState(next State) {
	d.mu.Lock()
	d.state = next
	fns := make([]func(State), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	logger.Debugf("connection state: %s", next.Status)
	for _, fn := range fns {
		fn(next)
	}
}

// StartDiscovery runs the discovery sequence: hosted short-circuit, saved
// gateways into the registry, broadcast listener, then connection attempts
// against the last-used gateway or the loopback fallbacks. When nothing
// succeeds the state settles in Disconnected.
func (d *Discovery) StartDiscovery(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	switch d.Current().Status {
	case StatusDisconnected, StatusError:
	default:
		logger.Debugf("start discovery ignored in state %s", d.Current().Status)
		return nil
	}

	if d.hostedURL != "" {
		gw := d.registry.Upsert(Gateway{
			ID:     hostedGatewayID,
			URL:    d.hostedURL,
			Name:   "Hosted Gateway",
			TLS:    strings.HasPrefix(d.hostedURL, "https://"),
			Source: SourceSaved,
		})
		d.setState(State{Status: StatusConnected, Gateway: &gw})
		return nil
	}

	d.setState(State{Status: StatusDiscovering})

	// Saved gateways seed the registry without changing state.
	saved, err := d.store.LoadGateways()
	if err != nil {
		logger.Warnf("failed to load saved gateways: %v", err)
	}
	for _, record := range saved {
		d.registry.Upsert(savedToGateway(record))
	}

	if d.broadcast != nil {
		d.pumpOnce.Do(func() { go d.pumpBroadcast() })
	}

	// Try the last-used gateway first, then the loopback fallbacks. Attempt
	// failures here do not surface as Error states; discovery just settles
	// in Disconnected.
	var candidates []string
	if last, ok, err := d.store.LoadLastGateway(); err != nil {
		logger.Warnf("failed to load last gateway: %v", err)
	} else if ok {
		candidates = append(candidates, last.URL)
	} else {
		candidates = append(candidates, loopbackCandidates...)
	}

	for _, url := range candidates {
		if err := d.connectTo(ctx, url, true); err != nil {
			logger.Debugf("discovery candidate %s failed: %v", url, err)
			continue
		}
		return nil
	}

	// Last resort: spawn the local gateway ourselves and connect to it.
	if d.sidecar != nil {
		logger.Infof("no gateway reachable; starting sidecar gateway")
		if err := d.sidecar.Start(ctx); err != nil {
			logger.Warnf("failed to start sidecar gateway: %v", err)
		} else if err := d.connectTo(ctx, d.sidecar.URL(), true); err == nil {
			return nil
		}
	}

	d.setState(State{Status: StatusDisconnected})
	return nil
}

// ConnectTo connects to an explicit gateway URL, probing it first. Probe
// failure transitions to Error; success goes Connecting then Connected, with
// the gateway persisted as saved and last-used.
func (d *Discovery) ConnectTo(ctx context.Context, url string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.connectTo(ctx, url, false)
}

// connectTo runs the connect state machine. quiet suppresses the Error
// states during StartDiscovery's candidate sweep. Callers hold opMu.
func (d *Discovery) connectTo(ctx context.Context, rawURL string, quiet bool) error {
	url := NormalizeURL(rawURL)
	if url == "" {
		err := fmt.Errorf("empty gateway URL")
		if !quiet {
			d.setState(State{Status: StatusError, Err: err.Error()})
		}
		return err
	}

	// Reuse a registry entry when the normalized URL is already known;
	// otherwise probe the URL.
	gw, known := d.registry.FindByURL(url)
	if !known {
		probed, err := d.prober.Probe(ctx, url, SourceManual)
		if err != nil {
			if !quiet {
				d.setState(State{Status: StatusError, Err: err.Error()})
			}
			return err
		}
		gw = d.registry.Upsert(probed)
	}

	d.setState(State{Status: StatusConnecting, Gateway: &gw})

	// Liveness check before trusting the entry.
	live, err := d.prober.Probe(ctx, url, gw.Source)
	if err != nil {
		if !quiet {
			d.setState(State{Status: StatusError, Gateway: &gw, Err: err.Error()})
		} else {
			d.setState(State{Status: StatusDiscovering})
		}
		return err
	}
	live.Source = gw.Source
	gw = d.registry.Upsert(live)

	d.setState(State{Status: StatusConnected, Gateway: &gw})

	record := gatewayToSaved(gw)
	if err := d.store.SaveGateway(record); err != nil {
		logger.Warnf("failed to save gateway: %v", err)
	}
	if err := d.store.SaveLastGateway(record); err != nil {
		logger.Warnf("failed to save last gateway: %v", err)
	}
	return nil
}

// Disconnect transitions to Disconnected from any state.
func (d *Discovery) Disconnect() {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	d.setState(State{Status: StatusDisconnected})
}

// Close stops the broadcast pump and any sidecar gateway this Discovery
// spawned. Safe to call more than once; the Discovery is unusable afterwards.
func (d *Discovery) Close() {
	d.closeOnce.Do(func() {
		close(d.pumpStop)
		if d.sidecar != nil {
			if err := d.sidecar.Stop(); err != nil {
				logger.Warnf("failed to stop sidecar gateway: %v", err)
			}
		}
	})
}

// SidecarRunning reports whether the connected gateway is a sidecar process
// spawned by this client.
func (d *Discovery) SidecarRunning() bool {
	return d.sidecar != nil && d.sidecar.Running()
}

// pumpBroadcast feeds broadcast-discovery events into the registry. Events
// never change the connection state.
func (d *Discovery) pumpBroadcast() {
	events := d.broadcast.Events()
	for {
		select {
		case <-d.pumpStop:
			return
		case found, ok := <-events:
			if !ok {
				return
			}
			if found.DeviceID == "" || found.Host == "" {
				continue
			}
			scheme := "http"
			if found.TLS {
				scheme = "https"
			}
			d.registry.Upsert(Gateway{
				ID:           found.DeviceID,
				URL:          fmt.Sprintf("%s://%s:%d", scheme, found.Host, found.Port),
				Name:         found.Name,
				Version:      found.Version,
				Persona:      found.Persona,
				Voice:        found.Voice,
				TLS:          found.TLS,
				Source:       SourceBroadcast,
				DiscoveredAt: time.Now(),
			})
		}
	}
}

func savedToGateway(record storage.SavedGateway) Gateway {
	return Gateway{
		ID:           record.ID,
		URL:          record.URL,
		Name:         record.Name,
		Version:      record.Version,
		Persona:      record.Persona,
		Voice:        record.Voice,
		TLS:          record.TLS,
		Source:       SourceSaved,
		DiscoveredAt: time.UnixMilli(record.SavedAtMs),
	}
}

func gatewayToSaved(gw Gateway) storage.SavedGateway {
	return storage.SavedGateway{
		ID:      gw.ID,
		URL:     gw.URL,
		Name:    gw.Name,
		Version: gw.Version,
		Persona: gw.Persona,
		Voice:   gw.Voice,
		TLS:     gw.TLS,
		Source:  string(gw.Source),
	}
}
