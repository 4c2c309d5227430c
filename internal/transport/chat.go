package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/omnihq/beacon-client/internal/protocol/wire"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// ChannelState is the chat channel's own lifecycle state. Reconnection is an
// explicit state rather than a bare timer, so canceling it on intentional
// close is a state transition instead of a race against a pending timer.
type ChannelState string

const (
	ChannelIdle         ChannelState = "idle"
	ChannelOpen         ChannelState = "open"
	ChannelReconnecting ChannelState = "reconnecting"
	ChannelClosed       ChannelState = "closed"
)

// ToolEvent is a side-channel progress event correlated by tool invocation
// id. Done is false for tool_start and true for tool_result.
type ToolEvent struct {
	ToolID     string
	Label      string
	Invocation string
	Output     string
	Success    bool
	Done       bool
}

// ChatOptions tunes the chat channel's reconnect discipline.
type ChatOptions struct {
	// MaxReconnectAttempts caps reconnect attempts after an unexpected
	// close. Zero means the default (5).
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the linear backoff base: attempt n waits
	// n*base. Zero means the default (2s).
	ReconnectBaseDelay time.Duration
}

func (o ChatOptions) withDefaults() ChatOptions {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = 2 * time.Second
	}
	return o
}

// ChatChannel is one logical WebSocket per active conversation id. Opening a
// channel for a new session id tears down any existing channel first, failing
// its pending callbacks with ErrSessionChanged before the socket closes.
//
// The wire protocol carries no per-chunk correlation id: chat_chunk frames
// fan out to every registered token callback. Callers must keep at most one
// logical send in flight per channel.
type ChatChannel struct {
	client *Client
	opts   ChatOptions
	dialer *websocket.Dialer

	// openMu serializes Open and Close against each other.
	openMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	state     ChannelState
	attempt   int
	gen       int
	timer     *time.Timer

	table *callbackTable

	toolMu      sync.RWMutex
	toolHandler func(ToolEvent)

	prefMu  sync.RWMutex
	persona string
	model   string
}

// NewChatChannel creates an idle chat channel over the client's gateway.
func NewChatChannel(client *Client, opts ChatOptions) *ChatChannel {
	return &ChatChannel{
		client: client,
		opts:   opts.withDefaults(),
		dialer: websocket.DefaultDialer,
		state:  ChannelIdle,
		table:  newCallbackTable(),
	}
}

// SetToolHandler registers the handler for tool_start/tool_result events.
func (c *ChatChannel) SetToolHandler(fn func(ToolEvent)) {
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	c.toolHandler = fn
}

// SetPersona sets the client-local persona override sent with every message.
func (c *ChatChannel) SetPersona(personaID string) {
	c.prefMu.Lock()
	defer c.prefMu.Unlock()
	c.persona = personaID
}

// SetModelOverride sets the client-local model override. It is always sent
// explicitly so the gateway's notion of the current model cannot drift from
// what the UI displays.
func (c *ChatChannel) SetModelOverride(model string) {
	c.prefMu.Lock()
	defer c.prefMu.Unlock()
	c.model = model
}

// State returns the channel's lifecycle state.
func (c *ChatChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the currently assigned session id.
func (c *ChatChannel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Pending returns the number of in-flight sends. Used by tests.
func (c *ChatChannel) Pending() int {
	return c.table.size()
}

// Open connects the channel for a session id. Any channel already open for a
// different session is torn down first: its pending callbacks all fail with
// ErrSessionChanged before the old socket closes, so no callback is silently
// dropped.
func (c *ChatChannel) Open(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	if c.state == ChannelOpen && c.sessionID == sessionID {
		c.mu.Unlock()
		return nil
	}
	old := c.detachLocked()
	c.sessionID = sessionID
	c.attempt = 0
	c.state = ChannelIdle
	c.mu.Unlock()

	if old != nil {
		c.table.failAll(ErrSessionChanged)
		_ = old.Close()
	}

	conn, err := c.dial(ctx, sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.state = ChannelOpen
	c.attempt = 0
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	return nil
}

// detachLocked disconnects the current socket from the channel's state
// machine so its read loop exits without triggering a reconnect. Callers
// hold mu; the returned conn still needs closing.
func (c *ChatChannel) detachLocked() *websocket.Conn {
	old := c.conn
	c.conn = nil
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return old
}

// Close tears the channel down on purpose. Pending callbacks fail with
// ErrChannelClosed; no reconnect is scheduled.
func (c *ChatChannel) Close() error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	old := c.detachLocked()
	c.sessionID = ""
	c.state = ChannelClosed
	c.mu.Unlock()

	c.table.failAll(ErrChannelClosed)
	if old != nil {
		return old.Close()
	}
	return nil
}

// Send sends a chat message and registers its callbacks under a fresh
// correlation id, which is returned. The persona and model overrides from
// client-local preference state are attached to every send.
func (c *ChatChannel) Send(content string, cb Callbacks) (string, error) {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != ChannelOpen || conn == nil {
		return "", fmt.Errorf("chat channel not open")
	}

	c.prefMu.RLock()
	frame := wire.ChatSend{
		Type:          wire.ChatFrameOutboundChat,
		Content:       content,
		PersonaID:     c.persona,
		ModelOverride: c.model,
	}
	c.prefMu.RUnlock()

	id := uuid.NewString()
	c.table.register(id, cb)

	if err := conn.WriteJSON(frame); err != nil {
		c.table.unregister(id)
		return "", fmt.Errorf("failed to send chat message: %w", err)
	}
	return id, nil
}

// dial opens the WebSocket for a session against the current gateway.
func (c *ChatChannel) dial(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	base, err := c.client.WebSocketBase()
	if err != nil {
		return nil, err
	}

	endpoint := base + "/ws/chat/" + sessionID
	if token := c.client.Token(); token != "" {
		endpoint += "?token=" + url.QueryEscape(token)
	}

	header := http.Header{}
	header.Set("X-Device-Id", c.client.deviceID)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open chat channel: %w", err)
	}
	return conn, nil
}

// readLoop drains inbound frames until the socket errors. Malformed frames
// are logged and skipped; only a read error ends the loop.
func (c *ChatChannel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		var frame wire.ChatFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warnf("skipping malformed chat frame: %v", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *ChatChannel) handleFrame(frame wire.ChatFrame) {
	switch frame.Type {
	case wire.ChatFrameConnected, wire.ChatFramePong:
		// Keepalive / handshake; no callback effect.

	case wire.ChatFrameChunk:
		c.table.token(frame.Content)

	case wire.ChatFrameComplete:
		c.table.completeAll(frame.MessageID)

	case wire.ChatFrameError:
		msg := frame.Error
		if msg == "" {
			msg = "gateway error"
		}
		c.table.failAll(fmt.Errorf("%s", msg))

	case wire.ChatFrameToolStart, wire.ChatFrameToolResult:
		c.toolMu.RLock()
		handler := c.toolHandler
		c.toolMu.RUnlock()
		if handler != nil {
			handler(ToolEvent{
				ToolID:     frame.ToolID,
				Label:      frame.Label,
				Invocation: frame.Invocation,
				Output:     frame.Output,
				Success:    frame.Success,
				Done:       frame.Type == wire.ChatFrameToolResult,
			})
		}

	default:
		logger.Tracef("ignoring chat frame type %q", frame.Type)
	}
}

// handleClose runs when a read loop exits. A generation mismatch means the
// close was intentional (Open for a new session, or Close); only an
// unexpected close feeds the reconnect state machine.
func (c *ChatChannel) handleClose(gen int, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.state == ChannelClosed {
		c.mu.Unlock()
		return
	}

	sessionID := c.sessionID
	c.conn = nil

	if sessionID == "" || c.attempt >= c.opts.MaxReconnectAttempts {
		c.state = ChannelClosed
		c.mu.Unlock()
		c.table.failAll(ErrConnectionLost)
		logger.Warnf("chat channel closed: %v", cause)
		return
	}

	c.attempt++
	attempt := c.attempt
	c.state = ChannelReconnecting
	c.mu.Unlock()

	// Pending callbacks must fail before the reconnect attempt runs: a lost
	// connection never leaves a caller waiting indefinitely.
	c.table.failAll(ErrConnectionLost)

	delay := time.Duration(attempt) * c.opts.ReconnectBaseDelay
	logger.Infof("chat channel lost (%v); reconnect attempt %d/%d in %s", cause, attempt, c.opts.MaxReconnectAttempts, delay)

	c.mu.Lock()
	if c.state == ChannelReconnecting && c.gen == gen {
		c.timer = time.AfterFunc(delay, func() { c.redial(gen) })
	}
	c.mu.Unlock()
}

// redial attempts to re-open the socket for the current session. Failure
// schedules the next attempt until the cap; success resets the counter.
func (c *ChatChannel) redial(gen int) {
	c.mu.Lock()
	if c.state != ChannelReconnecting || c.gen != gen {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	conn, err := c.dial(context.Background(), sessionID)
	if err == nil {
		c.mu.Lock()
		if c.state != ChannelReconnecting || c.gen != gen {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.gen++
		newGen := c.gen
		c.state = ChannelOpen
		c.attempt = 0
		c.mu.Unlock()

		logger.Infof("chat channel reconnected for session %s", sessionID)
		go c.readLoop(conn, newGen)
		return
	}

	c.mu.Lock()
	if c.state != ChannelReconnecting || c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.attempt >= c.opts.MaxReconnectAttempts {
		c.state = ChannelClosed
		c.mu.Unlock()
		logger.Warnf("chat channel reconnect gave up after %d attempts: %v", c.opts.MaxReconnectAttempts, err)
		return
	}
	c.attempt++
	attempt := c.attempt
	delay := time.Duration(attempt) * c.opts.ReconnectBaseDelay
	c.timer = time.AfterFunc(delay, func() { c.redial(gen) })
	c.mu.Unlock()

	logger.Infof("chat channel reconnect failed (%v); attempt %d/%d in %s", err, attempt, c.opts.MaxReconnectAttempts, delay)
}

// httpToWS rewrites an http(s) base URL into its ws(s) equivalent.
func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
