package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
)

func TestTicketFlow_FullCollection(t *testing.T) {
	h := newTestEngine(t)

	sessionID := h.send(t, "", "ciao").SessionID

	reply := h.send(t, sessionID, "ticket")
	assert.Equal(t, models.StateTicketFlow, reply.State)
	assert.Contains(t, reply.Text, "Come ti chiami")

	// Too short to be a name: re-prompt without advancing.
	reply = h.send(t, sessionID, "A")
	assert.Contains(t, reply.Text, "non è valido")

	reply = h.send(t, sessionID, "Mario Rossi")
	assert.Contains(t, reply.Text, "Mario Rossi")
	assert.Contains(t, reply.Text, "recapito")

	// Invalid contact: re-prompt.
	reply = h.send(t, sessionID, "not-a-contact")
	assert.Contains(t, reply.Text, "non è valido")

	reply = h.send(t, sessionID, "test@test.com")
	assert.Contains(t, reply.Text, "test@test.com")

	// "no" ends the notes stage and creates the ticket.
	reply = h.send(t, sessionID, "no")
	assert.Contains(t, reply.Text, "n. 1")
	assert.Equal(t, models.StateAiHandled, reply.State)

	// The stored ticket carries the collected data.
	ticket, err := h.store.FindOpenTicket(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "Mario Rossi", ticket.Name)
	assert.Equal(t, "test@test.com", ticket.Contact)

	// Re-entering the flow short-circuits to the existing number.
	reply = h.send(t, sessionID, "ticket")
	assert.Contains(t, reply.Text, "n. 1")
	assert.Equal(t, models.StateAiHandled, reply.State)
	assert.Equal(t, 1, h.store.TicketCount())
}

func TestTicketFlow_NotesAccumulate(t *testing.T) {
	h := newTestEngine(t)

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "ticket")
	h.send(t, sessionID, "Anna Bianchi")
	h.send(t, sessionID, "+39 333 123 4567")

	h.send(t, sessionID, "l'ordine 42 non è mai arrivato")
	reply := h.send(t, sessionID, "il corriere dice consegnato")
	assert.Contains(t, reply.Text, "Annotato")

	h.send(t, sessionID, "basta")

	ticket, err := h.store.FindOpenTicket(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Contains(t, ticket.Notes, "ordine 42")
	assert.Contains(t, ticket.Notes, "corriere")
}

func TestTicketFlow_CancelRestoresState(t *testing.T) {
	h := newTestEngine(t)

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "ticket")
	h.send(t, sessionID, "Mario Rossi")

	reply := h.send(t, sessionID, "annulla")
	assert.Equal(t, models.StateAiHandled, reply.State)
	assert.Contains(t, reply.Text, "annullata")

	// Nothing was created; a later entry starts from scratch.
	assert.Equal(t, 0, h.store.TicketCount())
	reply = h.send(t, sessionID, "ticket")
	assert.Contains(t, reply.Text, "Come ti chiami")
}

func TestTicketFlow_NestedEntryRejected(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "ticket")

	_, err := h.engine.HandleEvent(ctx, sessionID, h.engine.Classify("ticket"))
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	// The flow survives the rejected attempt.
	reply := h.send(t, sessionID, "Mario Rossi")
	assert.Contains(t, reply.Text, "recapito")
}

func TestTicketFlow_NotReachableWithOperator(t *testing.T) {
	h := newTestEngine(t, "op1")
	ctx := context.Background()

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "operatore")
	_, ok, err := h.engine.TryAssign(ctx, "op1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.engine.HandleEvent(ctx, sessionID, h.engine.Classify("ticket"))
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, models.StateWithOperator, h.engine.sessionState(sessionID))
}

func TestTicketFlow_FromQueueReturnsToQueueWithPriority(t *testing.T) {
	h := newTestEngine(t, "op1")

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "operatore")

	h.send(t, sessionID, "ticket")
	h.send(t, sessionID, "Mario Rossi")
	h.send(t, sessionID, "test@test.com")
	reply := h.send(t, sessionID, "no")
	assert.Equal(t, models.StateAwaitingOperator, reply.State)

	// Back in the queue, promoted for the time already spent.
	snap := h.engine.queue.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, sessionID, snap[0].SessionID)
	assert.True(t, snap[0].Priority)

	// And the queue-wait clock is running again.
	h.engine.timersMu.Lock()
	_, hasTimer := h.engine.timers[timerKey{sessionID, models.TimerQueueWait}]
	h.engine.timersMu.Unlock()
	assert.True(t, hasTimer)
}

func TestTicketFlow_EscalateRepeatsPrompt(t *testing.T) {
	h := newTestEngine(t)

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "ticket")
	h.send(t, sessionID, "Mario Rossi")

	// Asking for an operator mid-flow does not derail the collection.
	reply := h.send(t, sessionID, "operatore")
	assert.Equal(t, models.StateTicketFlow, reply.State)
	assert.Contains(t, reply.Text, "recapito")
}

func TestTicketFlow_ResumeTokenMapsBack(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "ticket")
	h.send(t, sessionID, "Mario Rossi")
	h.send(t, sessionID, "test@test.com")
	h.send(t, sessionID, "no")

	ticket, err := h.store.FindOpenTicket(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	require.NotEmpty(t, ticket.ResumeToken)

	resolved, err := h.engine.Resume(ctx, ticket.ResumeToken)
	require.NoError(t, err)
	assert.Equal(t, sessionID, resolved)
}

func TestTicketFlow_PublishesCreationEvent(t *testing.T) {
	h := newTestEngine(t)

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "ticket")
	h.send(t, sessionID, "Mario Rossi")
	h.send(t, sessionID, "test@test.com")
	h.send(t, sessionID, "no")

	// Publication is asynchronous.
	require.Eventually(t, func() bool {
		h.producer.mu.Lock()
		defer h.producer.mu.Unlock()
		return len(h.producer.tickets) == 1
	}, time.Second, 10*time.Millisecond)
}
