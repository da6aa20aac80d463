package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
)

// MemoryStore is an in-process SessionStore. It backs tests and
// storage-less single-node runs with the same semantics as the Redis
// implementation, including version conflicts.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string][]byte
	versions    map[string]uint64
	tickets     map[int64]models.Ticket
	openTickets map[string]int64
	resume      map[string]resumeEntry
	seq         int64
}

type resumeEntry struct {
	sessionID string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string][]byte),
		versions:    make(map[string]uint64),
		tickets:     make(map[int64]models.Ticket),
		openTickets: make(map[string]int64),
		resume:      make(map[string]resumeEntry),
	}
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.versions[s.ID]; current != s.Version {
		return fmt.Errorf("session %s: stored version %d, caller version %d: %w",
			s.ID, current, s.Version, errs.ErrVersionConflict)
	}
	s.Version++
	raw, err := json.Marshal(s)
	if err != nil {
		s.Version--
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	m.sessions[s.ID] = raw
	m.versions[s.ID] = s.Version
	return nil
}

func (m *MemoryStore) CreateTicket(_ context.Context, t *models.Ticket) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.openTickets[t.SessionID]; ok {
		return existing, errs.ErrAlreadyExists
	}
	m.seq++
	t.Number = m.seq
	m.tickets[t.Number] = *t
	m.openTickets[t.SessionID] = t.Number
	return t.Number, nil
}

func (m *MemoryStore) FindOpenTicket(_ context.Context, sessionID string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	number, ok := m.openTickets[sessionID]
	if !ok {
		return nil, nil
	}
	t := m.tickets[number]
	return &t, nil
}

func (m *MemoryStore) PutResumeToken(_ context.Context, token, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resume[token] = resumeEntry{sessionID: sessionID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) LookupResumeToken(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.resume[token]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(m.resume, token)
		return "", errs.ErrTokenNotFound
	}
	return entry.sessionID, nil
}

// TicketCount reports the number of stored ticket records.
func (m *MemoryStore) TicketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}
