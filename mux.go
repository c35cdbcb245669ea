package taskqueue

import (
	"fmt"
	"sync"
)

// Mux is a registry of named handlers. A pool binds a handler name at
// registration time; each worker resolves the name against the Mux
// during its init handshake, so handlers are never shipped per job.
type Mux struct {
	entries map[string]muxEntry
	mu      *sync.RWMutex
}

type muxEntry struct {
	h    Handler
	name string
}

func NewMux() *Mux {
	return &Mux{
		entries: make(map[string]muxEntry),
		mu:      &sync.RWMutex{},
	}
}

// Handle is used to register a handler given a handler name.
// Re-registering a name replaces the handler for workers spawned
// afterwards; running workers keep the handler they resolved at init.
func (m *Mux) Handle(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[name] = muxEntry{
		h:    h,
		name: name,
	}
}

// Handler returns the handler registered under the given name.
// An unknown name is an error: a worker whose init handshake names a
// missing handler must fail to spawn rather than run a placeholder.
func (m *Mux) Handler(name string) (Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// only check for exact match for now.
	v, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for %q", name)
	}

	return v.h, nil
}
