package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store persists checkpoint states by stream name.
type Store interface {
	// Load returns the stored state, or a zero state for the stream when
	// none exists.
	Load(ctx context.Context, stream string) (State, error)

	// Save persists state. Stores refuse to move a stored cursor backwards
	// with ErrStaleState.
	Save(ctx context.Context, state State) error

	// Delete removes the stored state of a stream.
	Delete(ctx context.Context, stream string) error

	// Close releases any resources held by the store.
	Close() error
}

func validStream(stream string) error {
	if stream == "" || stream == "." || stream == ".." || strings.ContainsAny(stream, `/\:`) {
		return fmt.Errorf("invalid stream name %q", stream)
	}
	return nil
}

// MemoryStore keeps states in process.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, stream string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[stream]; ok {
		return s, nil
	}
	return State{Stream: stream}, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state State) error {
	if err := validStream(state.Stream); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.states[state.Stream]; ok && cur.LastID > state.LastID {
		savesTotal.WithLabelValues("memory", "stale").Inc()
		return fmt.Errorf("%w: stored %d, saving %d", ErrStaleState, cur.LastID, state.LastID)
	}
	m.states[state.Stream] = state
	savesTotal.WithLabelValues("memory", "ok").Inc()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, stream string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stream)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
