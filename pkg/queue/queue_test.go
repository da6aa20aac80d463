package queue

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-escalation-engine/pkg/errs"
)

func TestManager_FIFOOrder(t *testing.T) {
	m := NewManager()
	base := time.Now()

	require.NoError(t, m.Enqueue("s1", base, false))
	require.NoError(t, m.Enqueue("s2", base.Add(time.Second), false))
	require.NoError(t, m.Enqueue("s3", base.Add(2*time.Second), false))

	for _, want := range []string{"s1", "s2", "s3"} {
		e, ok := m.DequeueHead()
		require.True(t, ok)
		assert.Equal(t, want, e.SessionID)
	}

	_, ok := m.DequeueHead()
	assert.False(t, ok)
}

func TestManager_PriorityBeforeFIFO(t *testing.T) {
	m := NewManager()
	base := time.Now()

	require.NoError(t, m.Enqueue("old", base, false))
	require.NoError(t, m.Enqueue("urgent", base.Add(time.Minute), true))

	e, ok := m.DequeueHead()
	require.True(t, ok)
	assert.Equal(t, "urgent", e.SessionID)

	e, ok = m.DequeueHead()
	require.True(t, ok)
	assert.Equal(t, "old", e.SessionID)
}

func TestManager_DuplicateEnqueue(t *testing.T) {
	m := NewManager()
	at := time.Now()

	require.NoError(t, m.Enqueue("s1", at, false))
	err := m.Enqueue("s1", at.Add(time.Second), true)
	assert.ErrorIs(t, err, errs.ErrAlreadyQueued)

	// The original entry survives untouched.
	assert.Equal(t, 1, m.Len())
	e, ok := m.DequeueHead()
	require.True(t, ok)
	assert.False(t, e.Priority)
	assert.True(t, e.EnqueuedAt.Equal(at))
}

func TestManager_Promote(t *testing.T) {
	m := NewManager()
	base := time.Now()

	require.NoError(t, m.Enqueue("first", base, false))
	require.NoError(t, m.Enqueue("second", base.Add(time.Second), false))

	require.True(t, m.Promote("second"))
	assert.False(t, m.Promote("missing"))

	e, ok := m.DequeueHead()
	require.True(t, ok)
	assert.Equal(t, "second", e.SessionID)
	// Promotion keeps the original enqueue time.
	assert.True(t, e.EnqueuedAt.Equal(base.Add(time.Second)))
}

func TestManager_PromotedStayFIFOAmongThemselves(t *testing.T) {
	m := NewManager()
	base := time.Now()

	require.NoError(t, m.Enqueue("a", base, false))
	require.NoError(t, m.Enqueue("b", base.Add(time.Second), false))
	require.True(t, m.Promote("a"))
	require.True(t, m.Promote("b"))

	e, _ := m.DequeueHead()
	assert.Equal(t, "a", e.SessionID)
}

func TestManager_Remove(t *testing.T) {
	m := NewManager()

	require.NoError(t, m.Enqueue("s1", time.Now(), false))
	assert.True(t, m.Remove("s1"))
	assert.False(t, m.Remove("s1"))
	assert.False(t, m.Contains("s1"))
	assert.Equal(t, 0, m.Len())
}

func TestManager_Snapshot(t *testing.T) {
	m := NewManager()
	base := time.Now()

	require.NoError(t, m.Enqueue("late", base.Add(time.Minute), false))
	require.NoError(t, m.Enqueue("early", base, false))
	require.NoError(t, m.Enqueue("vip", base.Add(time.Hour), true))

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "vip", snap[0].SessionID)
	assert.Equal(t, "early", snap[1].SessionID)
	assert.Equal(t, "late", snap[2].SessionID)

	// Snapshot never drains the queue.
	assert.Equal(t, 3, m.Len())
}

// Concurrent enqueue/dequeue/remove churn must never produce a
// duplicate entry or dequeue a session twice.
func TestManager_AtMostOnceUnderConcurrency(t *testing.T) {
	m := NewManager()
	const sessions = 50
	const workers = 8

	var mu sync.Mutex
	dequeued := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				id := fmt.Sprintf("s%d", rng.Intn(sessions))
				switch rng.Intn(3) {
				case 0:
					_ = m.Enqueue(id, time.Now(), rng.Intn(2) == 0)
				case 1:
					if e, ok := m.DequeueHead(); ok {
						mu.Lock()
						dequeued[e.SessionID]++
						mu.Unlock()
						// Re-add so the churn keeps going; duplicates
						// of an id still present must be rejected.
						_ = m.Enqueue(e.SessionID, time.Now(), false)
					}
				default:
					m.Remove(id)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	// Every remaining entry appears exactly once.
	seen := make(map[string]bool)
	for _, e := range m.Snapshot() {
		assert.False(t, seen[e.SessionID], "duplicate entry for %s", e.SessionID)
		seen[e.SessionID] = true
	}
}
