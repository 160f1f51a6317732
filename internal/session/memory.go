package session

import (
	"context"
	"sync"
	"time"

	"infomary-backend/internal/models"
)

type memoryEntry struct {
	state     *models.SessionState
	expiresAt time.Time
}

// MemoryStore is a single-process Store. Values are copied in and out so
// callers never share slices with the stored state.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memoryEntry
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, st *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.sessions[st.ID]; ok && now.Before(e.expiresAt) {
		return ErrAlreadyExists
	}

	st.CreatedAt = now.UTC()
	st.UpdatedAt = now.UTC()
	st.Version = 1
	s.sessions[st.ID] = &memoryEntry{state: st.Clone(), expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(id)
	if e == nil {
		return nil, nil
	}
	e.expiresAt = s.now().Add(s.ttl)
	return e.state.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, st *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(st.ID)
	if e == nil {
		return ErrNotFound
	}
	if e.state.Version != st.Version {
		return ErrVersionConflict
	}

	st.Version++
	st.UpdatedAt = s.now().UTC()
	e.state = st.Clone()
	e.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// live returns the entry for id, dropping it if it has expired.
func (s *MemoryStore) live(id string) *memoryEntry {
	e, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, id)
		return nil
	}
	return e
}
