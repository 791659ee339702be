package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kauthdev/kauth/provider"
)

// State is a pending login attempt, keyed by the opaque state value sent
// to the provider for CSRF protection.
type State struct {
	ID          string       `json:"id"`
	Provider    provider.Key `json:"provider"`
	RedirectURI string       `json:"redirect_uri"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// StateStore persists pending login states. Consume is one-shot: a state
// is returned at most once, so a replayed callback fails.
type StateStore interface {
	Save(ctx context.Context, state State) error
	Consume(ctx context.Context, id string) (*State, error)
}

// ErrStateNotFound is returned by Consume when the state is unknown,
// expired or already used.
var ErrStateNotFound = errStateNotFound{}

type errStateNotFound struct{}

func (errStateNotFound) Error() string { return "login state not found" }

// MemoryStateStore is an in-process StateStore for single-instance
// deployments and tests.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

// Save stores a pending state.
func (s *MemoryStateStore) Save(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state
	return nil
}

// Consume removes and returns a pending state. Expired states are treated
// as not found.
func (s *MemoryStateStore) Consume(_ context.Context, id string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.states, id)

	if time.Now().After(state.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &state, nil
}

// PurgeExpired drops expired states and returns how many were removed.
// Run it periodically; Consume already ignores expired entries.
func (s *MemoryStateStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	purged := 0
	for id, state := range s.states {
		if now.After(state.ExpiresAt) {
			delete(s.states, id)
			purged++
		}
	}
	return purged
}

// Len returns the number of pending states.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
