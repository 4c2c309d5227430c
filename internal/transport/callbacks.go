package transport

import (
	"errors"
	"sync"
)

// Terminal failure reasons delivered to pending chat callbacks.
var (
	// ErrSessionChanged is delivered when a channel is reopened for a
	// different session while sends are still pending.
	ErrSessionChanged = errors.New("session changed")
	// ErrConnectionLost is delivered when the channel drops before a
	// terminal frame arrives.
	ErrConnectionLost = errors.New("connection lost")
	// ErrChannelClosed is delivered when the channel is closed on purpose
	// with sends still pending.
	ErrChannelClosed = errors.New("channel closed")
)

// Callbacks receives the outcome of one chat send. OnToken may fire zero or
// more times; then exactly one of OnComplete or OnError fires, once.
type Callbacks struct {
	OnToken    func(token string)
	OnComplete func(messageID string)
	OnError    func(err error)
}

// callbackTable owns every pending chat callback, keyed by the locally
// generated correlation id. All mutation goes through register, completeAll,
// and failAll, so the at-most-one-terminal-outcome invariant is enforced in
// one place.
//
// The chat protocol carries no per-chunk correlation id, so token and
// terminal frames fan out to every pending entry. Callers keep at most one
// logical send in flight per channel.
type callbackTable struct {
	mu      sync.Mutex
	pending map[string]Callbacks
}

func newCallbackTable() *callbackTable {
	return &callbackTable{pending: make(map[string]Callbacks)}
}

// register adds a pending callback under a correlation id.
func (t *callbackTable) register(id string, cb Callbacks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = cb
}

// unregister removes a pending callback without firing it. Used to roll back
// a registration when the send itself fails to write.
func (t *callbackTable) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// token delivers an incremental token to every pending callback. Tokens are
// not terminal; entries stay registered.
func (t *callbackTable) token(content string) {
	t.mu.Lock()
	cbs := make([]Callbacks, 0, len(t.pending))
	for _, cb := range t.pending {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		if cb.OnToken != nil {
			cb.OnToken(content)
		}
	}
}

// completeAll fires and removes every pending callback with a terminal
// completion.
func (t *callbackTable) completeAll(messageID string) {
	for _, cb := range t.drain() {
		if cb.OnComplete != nil {
			cb.OnComplete(messageID)
		}
	}
}

// failAll fires and removes every pending callback with a terminal error.
func (t *callbackTable) failAll(err error) {
	for _, cb := range t.drain() {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}
}

// drain removes and returns all pending entries. Removal before invocation is
// what makes terminal delivery at-most-once even if a callback re-enters the
// table.
func (t *callbackTable) drain() []Callbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	cbs := make([]Callbacks, 0, len(t.pending))
	for _, cb := range t.pending {
		cbs = append(cbs, cb)
	}
	t.pending = make(map[string]Callbacks)
	return cbs
}

// size returns the number of pending callbacks.
func (t *callbackTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
