// Package node maintains the device's registration channel against the
// gateway: it announces the device's capability surface over /ws/node and
// services remote command invocations through the capability registry.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnihq/beacon-client/internal/capability"
	"github.com/omnihq/beacon-client/internal/protocol/wire"
	"github.com/omnihq/beacon-client/internal/transport"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// Device describes the device being registered. The command list is not part
// of it; that always comes from the capability registry, so the advertised
// surface cannot drift from what the device actually services.
type Device struct {
	DeviceID     string
	Name         string
	Platform     string
	Family       string
	Capabilities []string
}

// Options tunes the node channel's reconnect discipline.
type Options struct {
	// MaxReconnectAttempts caps reconnect attempts after an unexpected
	// close. Zero means the default (5).
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the linear backoff base: attempt n waits
	// n*base. Zero means the default (3s).
	ReconnectBaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = 3 * time.Second
	}
	return o
}

// Service owns the node registration channel. Registered() only becomes true
// once the gateway acknowledges with a registered frame; a dialed socket that
// never gets the acknowledgment is not a registered node.
//
// Its reconnect counter is independent from the chat channel's: a flapping
// node channel must not consume the chat channel's attempts, and vice versa.
type Service struct {
	client   *transport.Client
	registry *capability.Registry
	device   Device
	opts     Options
	dialer   *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	nodeID     string
	registered bool
	running    bool
	attempt    int
	gen        int
	timer      *time.Timer

	// writeMu guards socket writes; invokes run concurrently.
	writeMu sync.Mutex
}

// NewService creates a stopped node service.
func NewService(client *transport.Client, registry *capability.Registry, device Device, opts Options) *Service {
	return &Service{
		client:   client,
		registry: registry,
		device:   device,
		opts:     opts.withDefaults(),
		dialer:   websocket.DefaultDialer,
	}
}

// Registered reports whether the gateway has acknowledged the registration.
func (s *Service) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// NodeID returns the gateway-assigned node id, or "" before acknowledgment.
func (s *Service) NodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeID
}

// Start dials the node channel and sends the registration frame. A dial or
// registration-write failure is returned to the caller; reconnection only
// applies to channels that were up and dropped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("node service already running")
	}
	s.running = true
	s.attempt = 0
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stop closes the node channel on purpose. No reconnect is scheduled.
func (s *Service) Stop() error {
	s.mu.Lock()
	s.running = false
	s.registered = false
	s.nodeID = ""
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// connect dials /ws/node, sends the register frame, and starts the read
// loop.
func (s *Service) connect(ctx context.Context) error {
	base, err := s.client.WebSocketBase()
	if err != nil {
		return err
	}

	endpoint := base + "/ws/node"
	if token := s.client.Token(); token != "" {
		endpoint += "?token=" + url.QueryEscape(token)
	}

	header := http.Header{}
	header.Set("X-Device-Id", s.device.DeviceID)

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to open node channel: %w", err)
	}

	register := wire.NodeRegister{
		Type:         wire.NodeFrameRegister,
		DeviceID:     s.device.DeviceID,
		Name:         s.device.Name,
		Platform:     s.device.Platform,
		Family:       s.device.Family,
		Capabilities: s.device.Capabilities,
		Commands:     s.registry.Commands(),
	}
	if err := conn.WriteJSON(register); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send node registration: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.readLoop(conn, gen)
	return nil
}

func (s *Service) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		var frame wire.NodeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warnf("skipping malformed node frame: %v", err)
			continue
		}

		switch frame.Type {
		case wire.NodeFrameRegistered:
			s.mu.Lock()
			s.nodeID = frame.NodeID
			s.registered = true
			s.attempt = 0
			s.mu.Unlock()
			logger.Infof("node registered as %s with commands %v", frame.NodeID, s.registry.Commands())

		case wire.NodeFrameInvoke:
			go s.invoke(conn, frame)

		default:
			logger.Tracef("ignoring node frame type %q", frame.Type)
		}
	}
}

// invoke services one remote command invocation. Every invoke gets exactly
// one invoke_response carrying the same idempotency key; handler failures
// travel in the envelope's error field.
func (s *Service) invoke(conn *websocket.Conn, frame wire.NodeFrame) {
	ctx := context.Background()
	if frame.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(frame.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var params map[string]interface{}
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			s.respond(conn, frame.IdempotencyKey, capability.Fail("invalid params: %v", err))
			return
		}
	}

	env := s.registry.Execute(ctx, frame.Command, params)
	s.respond(conn, frame.IdempotencyKey, env)
}

func (s *Service) respond(conn *websocket.Conn, idempotencyKey string, env capability.Envelope) {
	resp := wire.NodeInvokeResponse{
		Type:           wire.NodeFrameInvokeResponse,
		IdempotencyKey: idempotencyKey,
		OK:             env.OK,
		Payload:        env.Payload,
		Error:          env.Error,
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(resp)
	s.writeMu.Unlock()
	if err != nil {
		logger.Warnf("failed to send invoke response %s: %v", idempotencyKey, err)
	}
}

// handleClose runs when a read loop exits. A generation mismatch means Stop
// or a newer connection already superseded this one.
func (s *Service) handleClose(gen int, cause error) {
	s.mu.Lock()
	if s.gen != gen || !s.running {
		s.mu.Unlock()
		return
	}

	s.conn = nil
	s.registered = false
	s.nodeID = ""

	if s.attempt >= s.opts.MaxReconnectAttempts {
		s.running = false
		s.mu.Unlock()
		logger.Warnf("node channel closed, giving up after %d attempts: %v", s.opts.MaxReconnectAttempts, cause)
		return
	}

	s.attempt++
	attempt := s.attempt
	delay := time.Duration(attempt) * s.opts.ReconnectBaseDelay
	s.timer = time.AfterFunc(delay, func() { s.redial(gen) })
	s.mu.Unlock()

	logger.Infof("node channel lost (%v); reconnect attempt %d/%d in %s", cause, attempt, s.opts.MaxReconnectAttempts, delay)
}

func (s *Service) redial(gen int) {
	s.mu.Lock()
	if !s.running || s.gen != gen || s.conn != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.connect(context.Background())
	if err == nil {
		return
	}

	s.mu.Lock()
	if !s.running || s.gen != gen || s.conn != nil {
		s.mu.Unlock()
		return
	}
	if s.attempt >= s.opts.MaxReconnectAttempts {
		s.running = false
		s.mu.Unlock()
		logger.Warnf("node channel reconnect gave up after %d attempts: %v", s.opts.MaxReconnectAttempts, err)
		return
	}
	s.attempt++
	attempt := s.attempt
	delay := time.Duration(attempt) * s.opts.ReconnectBaseDelay
	s.timer = time.AfterFunc(delay, func() { s.redial(gen) })
	s.mu.Unlock()

	logger.Infof("node channel reconnect failed (%v); attempt %d/%d in %s", err, attempt, s.opts.MaxReconnectAttempts, delay)
}
