package wire

import "encoding/json"

// Node channel frame types. One WebSocket per device at
// ws(s)://<host>/ws/node.
const (
	NodeFrameRegister       = "register"
	NodeFrameRegistered     = "registered"
	NodeFrameInvoke         = "invoke"
	NodeFrameInvokeResponse = "invoke_response"
)

// NodeRegister is the outbound registration frame announcing the device and
// its capability surface.
type NodeRegister struct {
	Type string `json:"type"`
	// DeviceID is the device's stable id.
	DeviceID string `json:"device_id"`
	// Name is the human-readable device name.
	Name string `json:"name"`
	// Platform is the device platform string (e.g. "linux", "android").
	Platform string `json:"platform"`
	// Family is a coarse device-family tag (e.g. "desktop", "mobile").
	Family string `json:"family"`
	// Capabilities lists coarse capability tags (e.g. "camera", "location").
	Capabilities []string `json:"capabilities"`
	// Commands lists the command names the device can service.
	Commands []string `json:"commands"`
}

// NodeFrame is an inbound node channel frame.
type NodeFrame struct {
	Type string `json:"type"`

	// NodeID is the gateway-assigned node id for registered frames.
	NodeID string `json:"node_id,omitempty"`

	// Command is the command name for invoke frames.
	Command string `json:"command,omitempty"`
	// Params carries the invoke parameter bag.
	Params json.RawMessage `json:"params,omitempty"`
	// TimeoutMs bounds how long the gateway is willing to wait.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
	// IdempotencyKey identifies the invoke request for response correlation.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Error carries the message for error frames.
	Error string `json:"error,omitempty"`
}

// NodeInvokeResponse is the outbound reply to an invoke frame. The envelope
// is uniform: ok, payload, error. Handler failures travel in Error, never as
// a closed channel or a missing reply.
type NodeInvokeResponse struct {
	Type string `json:"type"`
	// IdempotencyKey echoes the invoke request's key.
	IdempotencyKey string `json:"idempotency_key"`
	// OK reports whether the command succeeded.
	OK bool `json:"ok"`
	// Payload is the command result when OK.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Error is the failure description when not OK.
	Error string `json:"error,omitempty"`
}
