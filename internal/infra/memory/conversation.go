// Package memory provides in-process implementations of the stores.
// They back local development and tests; state is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ConversationStore implements port.ConversationStore using a map with
// optimistic locking on Version.
type ConversationStore struct {
	mu     sync.RWMutex
	states map[string]*chatdomain.ConversationState
	now    func() time.Time
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		states: make(map[string]*chatdomain.ConversationState),
		now:    time.Now,
	}
}

// Get returns nil when the phone is unknown or its state expired.
func (s *ConversationStore) Get(_ context.Context, phone string) (*chatdomain.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[phone]
	if !ok || st.Expired(s.now()) {
		return nil, nil
	}
	return cloneState(st)
}

// Save creates (Version 0) or updates (Version N) the state for its phone.
func (s *ConversationStore) Save(_ context.Context, state *chatdomain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored, exists := s.states[state.Phone]
	if exists && stored.Expired(now) {
		delete(s.states, state.Phone)
		exists = false
	}

	switch {
	case state.Version == 0 && exists:
		return &domain.ErrVersionConflict{Resource: "conversation", ID: state.Phone}
	case state.Version > 0 && (!exists || stored.Version != state.Version):
		return &domain.ErrVersionConflict{Resource: "conversation", ID: state.Phone}
	}

	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.Version++
	state.UpdatedAt = now

	cp, err := cloneState(state)
	if err != nil {
		state.Version--
		return err
	}
	s.states[state.Phone] = cp
	return nil
}

// Delete removes the state; deleting an unknown phone is a no-op.
func (s *ConversationStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, phone)
	return nil
}

// DeleteExpired drops every state whose ExpiresAt is before now.
func (s *ConversationStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for phone, st := range s.states {
		if st.Expired(now) {
			delete(s.states, phone)
			n++
		}
	}
	return n, nil
}

// Len returns how many states are stored, expired ones included.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func cloneState(st *chatdomain.ConversationState) (*chatdomain.ConversationState, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var out chatdomain.ConversationState
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
