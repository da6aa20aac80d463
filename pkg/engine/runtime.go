package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
)

// Start launches the engine's background routines: the timer
// supervisor, the write-behind flusher and the idle session cleanup.
// They all stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting escalation engine")

	go e.timerLoop(ctx)
	go e.flushLoop(ctx)
	go e.cleanupLoop(ctx)

	e.logger.WithField("instance_id", e.cfg.InstanceID).Info("Escalation engine started")
	return nil
}

// Stop drains dirty sessions to storage before shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Stopping escalation engine")
	e.FlushDirty(ctx)
	e.logger.Info("Escalation engine stopped")
	return nil
}

func (e *Engine) timerLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.CheckDueTimers(ctx, time.Now())
		}
	}
}

func (e *Engine) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.FlushDirty(ctx)
		}
	}
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.archiveIdleSessions(ctx, time.Now())
		}
	}
}

// FlushDirty persists every session touched since the previous flush.
// The in-memory copy is the source of truth: a version conflict means
// another instance wrote the record behind our back, so we adopt the
// stored version number and overwrite once. Sessions that still fail
// stay dirty for the next cycle.
func (e *Engine) FlushDirty(ctx context.Context) {
	e.dirtyMu.Lock()
	batch := e.dirty
	e.dirty = make(map[string]struct{})
	e.dirtyMu.Unlock()

	if len(batch) == 0 {
		return
	}

	flushed := 0
	for id := range batch {
		if err := e.flushSession(ctx, id); err != nil {
			e.logger.WithError(err).WithField("session_id", id).Error("Failed to flush session")
			e.markDirty(id)
			continue
		}
		flushed++
	}

	e.logger.WithFields(logrus.Fields{
		"flushed": flushed,
		"failed":  len(batch) - flushed,
	}).Debug("Flush cycle complete")
}

func (e *Engine) flushSession(ctx context.Context, id string) error {
	e.mu.Lock()
	sl, ok := e.slots[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	sl.mu.Lock()
	snapshot := cloneSession(sl.s)
	sl.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(ctx, e.cfg.FlushDeadline())
	defer cancel()

	err := e.store.SaveSession(saveCtx, snapshot)
	if errors.Is(err, errs.ErrVersionConflict) {
		remote, lerr := e.store.LoadSession(saveCtx, id)
		if lerr != nil {
			return lerr
		}
		snapshot.Version = remote.Version
		err = e.store.SaveSession(saveCtx, snapshot)
	}
	if err != nil {
		return err
	}

	// Sync the CAS counter back so the next flush starts from the
	// version the store now holds.
	sl.mu.Lock()
	sl.s.Version = snapshot.Version
	sl.mu.Unlock()
	return nil
}

// archiveIdleSessions moves long-idle AI-handled sessions to the
// archived terminal state and evicts them from memory. Any later event
// for the same id revives the session from storage.
func (e *Engine) archiveIdleSessions(ctx context.Context, now time.Time) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.slots))
	for id := range e.slots {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	archived := 0
	for _, id := range ids {
		e.mu.Lock()
		sl, ok := e.slots[id]
		e.mu.Unlock()
		if !ok {
			continue
		}

		sl.mu.Lock()
		idle := sl.s.State == models.StateAiHandled &&
			now.Sub(sl.s.LastActivityAt) > e.cfg.SessionIdleTTL()
		if idle {
			sl.s.State = models.StateArchived
			sl.s.Generation++
		}
		snapshot := cloneSession(sl.s)
		sl.mu.Unlock()

		if !idle {
			continue
		}

		e.cancelAllTimers(id)

		saveCtx, cancel := context.WithTimeout(ctx, e.cfg.FlushDeadline())
		if err := e.store.SaveSession(saveCtx, snapshot); err != nil {
			e.logger.WithError(err).WithField("session_id", id).Warn("Failed to persist archived session")
		}
		cancel()

		e.dirtyMu.Lock()
		delete(e.dirty, id)
		e.dirtyMu.Unlock()

		e.mu.Lock()
		delete(e.slots, id)
		e.mu.Unlock()
		archived++
	}

	if archived > 0 {
		e.logger.WithField("archived", archived).Info("Archived idle sessions")
	}
}

// cloneSession deep-copies a session so it can be persisted outside
// the slot lock.
func cloneSession(s *models.Session) *models.Session {
	c := *s
	if s.TicketFlow != nil {
		f := *s.TicketFlow
		f.Notes = append([]string(nil), s.TicketFlow.Notes...)
		c.TicketFlow = &f
	}
	if s.QueuedAt != nil {
		t := *s.QueuedAt
		c.QueuedAt = &t
	}
	if s.AssignedAt != nil {
		t := *s.AssignedAt
		c.AssignedAt = &t
	}
	if s.FirstRespondedAt != nil {
		t := *s.FirstRespondedAt
		c.FirstRespondedAt = &t
	}
	return &c
}
