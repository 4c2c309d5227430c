// Package wire defines the JSON bodies and frames exchanged with the beacon
// gateway over HTTP and the two WebSocket channels.
package wire

// PairInfo is the GET /api/pair/info probe response. A candidate URL that
// does not answer this with a 2xx JSON body is not a gateway.
type PairInfo struct {
	// DeviceID is the gateway's own stable device id.
	DeviceID string `json:"device_id"`
	// Name is the gateway's display name.
	Name string `json:"name"`
	// Version is the gateway software version.
	Version string `json:"version"`
	// Persona is the gateway's currently active persona.
	Persona string `json:"persona,omitempty"`
	// Voice reports whether the gateway supports voice.
	Voice bool `json:"voice,omitempty"`
}

// PairConfirmRequest is the POST /api/pair/confirm request body.
type PairConfirmRequest struct {
	// Code is the short pairing code shown on the gateway side.
	Code string `json:"code"`
	// PublicKey is the device's Ed25519 public key (base64, std encoding).
	PublicKey string `json:"public_key"`
	// DeviceID is the device id derived from PublicKey.
	DeviceID string `json:"device_id"`
	// DeviceName is the human-readable device name.
	DeviceName string `json:"device_name"`
	// Platform is the device platform string.
	Platform string `json:"platform"`
}

// PairConfirmResponse is the POST /api/pair/confirm response body.
type PairConfirmResponse struct {
	// Token is the bearer token to use on subsequent requests.
	Token string `json:"token"`
}

// ErrorResponse is the uniform JSON error body returned by the gateway.
type ErrorResponse struct {
	Error string `json:"error"`
}
