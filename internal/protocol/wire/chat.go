package wire

// Chat channel frame types. One WebSocket per session at
// ws(s)://<host>/ws/chat/<session_id>.
const (
	ChatFrameConnected    = "connected"
	ChatFrameChunk        = "chat_chunk"
	ChatFrameComplete     = "chat_complete"
	ChatFrameError        = "error"
	ChatFrameToolStart    = "tool_start"
	ChatFrameToolResult   = "tool_result"
	ChatFramePong         = "pong"
	ChatFrameOutboundChat = "chat"
	ChatFrameOutboundPing = "ping"
)

// ChatSend is the outbound chat request frame.
//
// ModelOverride is always sent explicitly when the client has a local model
// preference, so the gateway's idea of the current model cannot drift from
// what the UI displays. The same applies to PersonaID.
type ChatSend struct {
	Type string `json:"type"`
	// Content is the user message text.
	Content string `json:"content"`
	// PersonaID optionally overrides the gateway's active persona.
	PersonaID string `json:"persona_id,omitempty"`
	// ModelOverride optionally pins the model for this message.
	ModelOverride string `json:"model_override,omitempty"`
}

// ChatFrame is an inbound chat channel frame. Fields are populated according
// to Type; unknown types are skipped by the reader.
type ChatFrame struct {
	Type string `json:"type"`

	// Content carries the incremental token for chat_chunk frames.
	Content string `json:"content,omitempty"`

	// MessageID identifies the completed message for chat_complete frames.
	MessageID string `json:"message_id,omitempty"`

	// Error carries the message for error frames.
	Error string `json:"error,omitempty"`

	// ToolID correlates tool_start and tool_result frames.
	ToolID string `json:"tool_id,omitempty"`
	// Label is a human-readable tool label.
	Label string `json:"label,omitempty"`
	// Invocation is the rendered tool invocation string.
	Invocation string `json:"invocation,omitempty"`
	// Output is the tool output text for tool_result frames.
	Output string `json:"output,omitempty"`
	// Success reports whether the tool invocation succeeded.
	Success bool `json:"success,omitempty"`
}
