package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
)

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	s := &models.Session{
		ID:             "sess_1",
		State:          models.StateAiHandled,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}

	require.NoError(t, m.SaveSession(ctx, s))
	assert.Equal(t, uint64(1), s.Version)

	loaded, err := m.LoadSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, models.StateAiHandled, loaded.State)
	assert.Equal(t, uint64(1), loaded.Version)
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	m := NewMemoryStore()

	_, err := m.LoadSession(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	s := &models.Session{ID: "sess_1", State: models.StateAiHandled}
	require.NoError(t, m.SaveSession(ctx, s))

	// A stale writer with the pre-save version must be rejected.
	stale := &models.Session{ID: "sess_1", State: models.StateWithOperator, Version: 0}
	err := m.SaveSession(ctx, stale)
	assert.ErrorIs(t, err, errs.ErrVersionConflict)

	// The stored record is untouched.
	loaded, err := m.LoadSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, models.StateAiHandled, loaded.State)

	// Adopting the stored version makes the write go through.
	stale.Version = loaded.Version
	require.NoError(t, m.SaveSession(ctx, stale))
	assert.Equal(t, uint64(2), stale.Version)
}

func TestMemoryStore_CreateTicket(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	first := &models.Ticket{SessionID: "sess_1", Name: "Mario Rossi", Contact: "test@test.com"}
	n1, err := m.CreateTicket(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1)

	// Second creation for the same session returns the existing number.
	dup := &models.Ticket{SessionID: "sess_1", Name: "Mario Rossi"}
	n2, err := m.CreateTicket(ctx, dup)
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)
	assert.Equal(t, n1, n2)
	assert.Equal(t, 1, m.TicketCount())

	// A different session gets the next number.
	other := &models.Ticket{SessionID: "sess_2"}
	n3, err := m.CreateTicket(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n3)
}

func TestMemoryStore_FindOpenTicket(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	found, err := m.FindOpenTicket(ctx, "sess_1")
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = m.CreateTicket(ctx, &models.Ticket{SessionID: "sess_1", Name: "Anna"})
	require.NoError(t, err)

	found, err = m.FindOpenTicket(ctx, "sess_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Anna", found.Name)
}

func TestMemoryStore_ResumeTokens(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.PutResumeToken(ctx, "tok", "sess_1", time.Hour))

	sessionID, err := m.LookupResumeToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", sessionID)

	_, err = m.LookupResumeToken(ctx, "unknown")
	assert.ErrorIs(t, err, errs.ErrTokenNotFound)
}

func TestMemoryStore_ResumeTokenExpiry(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.PutResumeToken(ctx, "tok", "sess_1", -time.Second))

	_, err := m.LookupResumeToken(ctx, "tok")
	assert.ErrorIs(t, err, errs.ErrTokenNotFound)
}
