// Package capability maps command names to local handlers that the gateway
// can invoke remotely through the node channel.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/omnihq/beacon-client/pkg/logger"
)

// Envelope is the uniform result of a command invocation. Exactly one of
// Payload and Error is meaningful: Payload when OK, Error otherwise. Nothing
// is ever thrown across the invoke boundary.
type Envelope struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Ok builds a success envelope from any JSON-serializable payload.
func Ok(payload interface{}) Envelope {
	if payload == nil {
		return Envelope{OK: true}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Fail("failed to encode payload: %v", err)
	}
	return Envelope{OK: true, Payload: raw}
}

// Fail builds a failure envelope.
func Fail(format string, args ...interface{}) Envelope {
	return Envelope{Error: fmt.Sprintf(format, args...)}
}

// Handler services a single command. Handlers must not share mutable state
// with each other and must not panic; a panic that does escape is converted
// into the envelope's Error by the registry.
type Handler func(ctx context.Context, params map[string]interface{}) Envelope

// Registry is the name-to-handler mapping for local device commands.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for a command name.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Commands returns the sorted list of registered command names.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches a command to its handler. Unknown command names are a
// registry-level failure, not a handler-level one.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (env Envelope) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return Fail("unknown command: %s", name)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Errorf("capability handler %s panicked: %v", name, recovered)
			env = Fail("command %s failed: %v", name, recovered)
		}
	}()

	return handler(ctx, params)
}
