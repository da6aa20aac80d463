package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-escalation-engine/pkg/models"
)

func TestTryAssign_EmptyQueue(t *testing.T) {
	h := newTestEngine(t, "op1")

	sessionID, ok, err := h.engine.TryAssign(context.Background(), "op1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, sessionID)
}

func TestTryAssign_UnknownOperator(t *testing.T) {
	h := newTestEngine(t, "op1")

	sessionID := h.send(t, "", "ciao").SessionID
	h.send(t, sessionID, "operatore")

	_, ok, err := h.engine.TryAssign(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.engine.Stats().QueueDepth)
}

func TestTryAssign_TakesQueueHead(t *testing.T) {
	h := newTestEngine(t, "op1")
	ctx := context.Background()

	first := h.send(t, "", "ciao").SessionID
	h.send(t, first, "operatore")
	second := h.send(t, "", "ciao").SessionID
	h.send(t, second, "operatore")

	assigned, ok, err := h.engine.TryAssign(ctx, "op1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, assigned)
	assert.Equal(t, models.StateWithOperator, h.engine.sessionState(first))
	assert.Equal(t, models.StateAwaitingOperator, h.engine.sessionState(second))
	assert.Equal(t, 1, h.engine.Stats().QueueDepth)

	// The assigned user is notified.
	msgs := h.notifier.messages(first)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "operatore")
}

func TestTryAssign_SkipsEntryThatLeftWaiting(t *testing.T) {
	h := newTestEngine(t, "op1")
	ctx := context.Background()

	first := h.send(t, "", "ciao").SessionID
	h.send(t, first, "operatore")
	second := h.send(t, "", "ciao").SessionID
	h.send(t, second, "operatore")

	// The head session wanders into the ticket flow while its queue
	// entry is still there: the claim must fail benignly and the next
	// waiter gets the operator.
	h.send(t, first, "ticket")
	require.Equal(t, models.StateTicketFlow, h.engine.sessionState(first))

	assigned, ok, err := h.engine.TryAssign(ctx, "op1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, assigned)
	assert.Equal(t, models.StateTicketFlow, h.engine.sessionState(first))
	assert.Equal(t, 0, h.engine.Stats().QueueDepth)
}

func TestTryAssign_RespectsOperatorCapacity(t *testing.T) {
	h := newTestEngine(t, "op1")
	h.engine.cfg.MaxSessionsPerOperator = 1
	ctx := context.Background()

	first := h.send(t, "", "ciao").SessionID
	h.send(t, first, "operatore")
	second := h.send(t, "", "ciao").SessionID
	h.send(t, second, "operatore")

	_, ok, err := h.engine.TryAssign(ctx, "op1")
	require.NoError(t, err)
	require.True(t, ok)

	// The operator already holds one conversation: no second pull.
	_, ok, err = h.engine.TryAssign(ctx, "op1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.engine.Stats().QueueDepth)

	// Capacity frees up when the conversation ends.
	_, err = h.engine.HandleOperatorAction(ctx, first, "op1", models.OperatorOfferClose)
	require.NoError(t, err)
	h.send(t, first, "chiudi")

	assigned, ok, err := h.engine.TryAssign(ctx, "op1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, assigned)
}

// Concurrent operators draining the queue must produce exactly one
// assignment per waiting session, never two.
func TestTryAssign_ConcurrentOperatorsExactlyOnce(t *testing.T) {
	const waiting = 20
	const operatorCount = 5

	operators := make([]string, operatorCount)
	for i := range operators {
		operators[i] = fmt.Sprintf("op%d", i)
	}
	h := newTestEngine(t, operators...)
	ctx := context.Background()

	sessions := make(map[string]bool, waiting)
	for i := 0; i < waiting; i++ {
		id := h.send(t, "", "ciao").SessionID
		h.send(t, id, "operatore")
		sessions[id] = true
	}
	require.Equal(t, waiting, h.engine.Stats().QueueDepth)

	var mu sync.Mutex
	assigned := make(map[string]string)

	var wg sync.WaitGroup
	for _, op := range operators {
		wg.Add(1)
		go func(operatorID string) {
			defer wg.Done()
			for {
				sessionID, ok, err := h.engine.TryAssign(ctx, operatorID)
				assert.NoError(t, err)
				if !ok {
					return
				}
				mu.Lock()
				prev, dup := assigned[sessionID]
				assigned[sessionID] = operatorID
				mu.Unlock()
				assert.False(t, dup, "session %s assigned to both %s and %s", sessionID, prev, operatorID)
			}
		}(op)
	}
	wg.Wait()

	assert.Len(t, assigned, waiting)
	assert.Equal(t, 0, h.engine.Stats().QueueDepth)
	for id := range sessions {
		assert.Equal(t, models.StateWithOperator, h.engine.sessionState(id))
	}
}
