package queue

import (
	"sync"
	"time"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
)

// Manager is the ordered waiting list of sessions requesting an
// operator. Ordering is two-tier: priority entries first, then FIFO by
// enqueue time, with the session token as the final deterministic
// tie-break. All operations take the queue mutex; callers must never
// hold it across blocking work.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*models.QueueEntry
}

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*models.QueueEntry)}
}

// Enqueue adds a session to the waiting list. A session appears at most
// once: a second enqueue returns ErrAlreadyQueued and leaves the
// existing entry untouched.
func (m *Manager) Enqueue(sessionID string, at time.Time, priority bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[sessionID]; ok {
		return errs.ErrAlreadyQueued
	}
	m.entries[sessionID] = &models.QueueEntry{
		SessionID:  sessionID,
		EnqueuedAt: at,
		Priority:   priority,
	}
	return nil
}

// DequeueHead removes and returns the highest-priority, earliest entry.
// The second return value is false on an empty queue.
func (m *Manager) DequeueHead() (models.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var head *models.QueueEntry
	for _, e := range m.entries {
		if head == nil || before(e, head) {
			head = e
		}
	}
	if head == nil {
		return models.QueueEntry{}, false
	}
	delete(m.entries, head.SessionID)
	return *head, true
}

// Remove drops a session's entry if present. Used on user cancel;
// silently no-ops when the session is not queued.
func (m *Manager) Remove(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[sessionID]; !ok {
		return false
	}
	delete(m.entries, sessionID)
	return true
}

// Promote raises a waiting session to the priority tier. The original
// enqueue time is kept so promoted sessions stay FIFO among themselves.
func (m *Manager) Promote(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return false
	}
	e.Priority = true
	return true
}

func (m *Manager) Contains(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[sessionID]
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns the entries in dequeue order.
func (m *Manager) Snapshot() []models.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.QueueEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && before(&out[j], &out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func before(a, b *models.QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.SessionID < b.SessionID
}
