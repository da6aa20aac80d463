package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
	"chat-escalation-engine/pkg/template"
)

type timerKey struct {
	sessionID string
	kind      models.TimerKind
}

// timerEntry is a scheduled SLA timer. The generation stamp is the
// session's generation at schedule time: a fire whose stamp no longer
// matches the session is stale and must be a silent no-op.
type timerEntry struct {
	key        timerKey
	fireAt     time.Time
	generation uint64
}

// startTimer schedules a timer of the given kind, replacing any prior
// timer of the same kind for the session. Callers hold the session lock.
func (e *Engine) startTimer(s *models.Session, kind models.TimerKind, d time.Duration) {
	e.timersMu.Lock()
	e.timers[timerKey{s.ID, kind}] = timerEntry{
		key:        timerKey{s.ID, kind},
		fireAt:     time.Now().Add(d),
		generation: s.Generation,
	}
	e.metrics.ActiveTimers.Set(float64(len(e.timers)))
	e.timersMu.Unlock()
}

func (e *Engine) cancelTimer(sessionID string, kind models.TimerKind) {
	e.timersMu.Lock()
	delete(e.timers, timerKey{sessionID, kind})
	e.metrics.ActiveTimers.Set(float64(len(e.timers)))
	e.timersMu.Unlock()
}

func (e *Engine) cancelAllTimers(sessionID string) {
	e.timersMu.Lock()
	for _, kind := range []models.TimerKind{models.TimerQueueWait, models.TimerFirstResponse, models.TimerInactivity} {
		delete(e.timers, timerKey{sessionID, kind})
	}
	e.metrics.ActiveTimers.Set(float64(len(e.timers)))
	e.timersMu.Unlock()
}

// CheckDueTimers fires every timer whose deadline passed. The run loop
// calls this on a ticker; tests call it directly with a chosen clock.
func (e *Engine) CheckDueTimers(ctx context.Context, now time.Time) {
	e.timersMu.Lock()
	var due []timerEntry
	for key, entry := range e.timers {
		if !entry.fireAt.After(now) {
			due = append(due, entry)
			delete(e.timers, key)
		}
	}
	e.metrics.ActiveTimers.Set(float64(len(e.timers)))
	e.timersMu.Unlock()

	for _, entry := range due {
		e.handleTimerFired(ctx, entry)
	}
}

// handleTimerFired funnels a timer expiration through the same
// per-session serialization path as user and operator events.
func (e *Engine) handleTimerFired(ctx context.Context, entry timerEntry) {
	err := e.withSession(ctx, entry.key.sessionID, false, func(s *models.Session) error {
		if s.Generation != entry.generation {
			e.metrics.StaleTimerFiresTotal.Inc()
			e.logger.WithFields(logrus.Fields{
				"session_id": s.ID,
				"kind":       entry.key.kind,
			}).Debug("Discarded stale timer fire")
			return nil
		}
		e.metrics.TimerFiresTotal.WithLabelValues(string(entry.key.kind)).Inc()
		switch entry.key.kind {
		case models.TimerQueueWait:
			e.fireQueueWait(ctx, s)
		case models.TimerFirstResponse:
			e.fireFirstResponse(ctx, s)
		case models.TimerInactivity:
			e.fireInactivity(ctx, s)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errs.ErrSessionNotFound) {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": entry.key.sessionID,
			"kind":       entry.key.kind,
		}).Error("Failed to handle timer fire")
	}
}

// fireQueueWait raises the session's queue tier and apologizes for the
// wait. No state change: the session keeps waiting, just earlier in
// line. The timer is not rescheduled, so this fires at most once per
// enqueue.
func (e *Engine) fireQueueWait(ctx context.Context, s *models.Session) {
	if !e.queue.Promote(s.ID) {
		return
	}
	e.logger.WithField("session_id", s.ID).Info("Queue wait exceeded, session promoted to priority tier")
	text := e.renderOrFallback(template.KeyQueueReescalation, nil)
	if err := e.notifier.SendToSession(ctx, s.ID, text); err != nil {
		e.logger.WithError(err).WithField("session_id", s.ID).Error("Failed to send re-escalation notice")
	}
}

// fireFirstResponse reports an SLA breach to external monitoring. The
// session state is untouched.
func (e *Engine) fireFirstResponse(ctx context.Context, s *models.Session) {
	e.metrics.SLABreachesTotal.Inc()
	assignedAt := s.LastActivityAt
	if s.AssignedAt != nil {
		assignedAt = *s.AssignedAt
	}
	e.logger.WithFields(logrus.Fields{
		"session_id":  s.ID,
		"operator_id": s.AssignedOperatorID,
	}).Warn("First-response SLA breached")
	e.events.PublishSLABreach(ctx, s.ID, s.AssignedOperatorID, assignedAt)
}

// fireInactivity soft-closes a silent conversation by moving it to
// closure negotiation, never by dropping it.
func (e *Engine) fireInactivity(ctx context.Context, s *models.Session) {
	if s.State != models.StateWithOperator {
		return
	}
	s.State = models.StateClosureNegotiation
	s.Generation++
	e.cancelTimer(s.ID, models.TimerFirstResponse)
	text := e.renderOrFallback(template.KeyClosureOffer, nil)
	if err := e.notifier.SendToSession(ctx, s.ID, text); err != nil {
		e.logger.WithError(err).WithField("session_id", s.ID).Error("Failed to send closure offer")
	}
}
