// Package gateway discovers reachable gateways and owns the process-wide
// connection state machine. No other component transitions the state; the
// transport client and the node service only observe it.
package gateway

import "time"

// Source records how a gateway entered the registry.
type Source string

const (
	SourceBroadcast Source = "broadcast"
	SourceManual    Source = "manual"
	SourceSaved     Source = "saved"
)

// Gateway is an ephemeral record of a known candidate gateway, keyed by the
// gateway-reported device id so the same gateway reachable at multiple URLs
// collapses to one entry.
type Gateway struct {
	// ID is the gateway's own device id from its probe response.
	ID string `json:"id"`
	// URL is the normalized base URL.
	URL string `json:"url"`
	// Name is the gateway's display name.
	Name string `json:"name"`
	// Version is the gateway software version.
	Version string `json:"version"`
	// Persona is the gateway's active persona at discovery time.
	Persona string `json:"persona,omitempty"`
	// Voice reports whether the gateway supports voice.
	Voice bool `json:"voice,omitempty"`
	// TLS reports whether the gateway is reached over https.
	TLS bool `json:"tls,omitempty"`
	// Source records how this entry was discovered.
	Source Source `json:"source"`
	// DiscoveredAt is when this entry was last created or refreshed.
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// Status enumerates the connection states.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusDiscovering  Status = "discovering"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// State is the single process-wide connection state. Gateway is set for
// Connecting and Connected, and optionally for Error when a specific gateway
// failed. Err is set only for Error.
type State struct {
	Status  Status
	Gateway *Gateway
	Err     string
}

// Connected reports whether the state is Connected.
func (s State) Connected() bool {
	return s.Status == StatusConnected
}

// BaseURL returns the connected gateway's base URL, or "" when not connected.
func (s State) BaseURL() string {
	if s.Status != StatusConnected || s.Gateway == nil {
		return ""
	}
	return s.Gateway.URL
}
