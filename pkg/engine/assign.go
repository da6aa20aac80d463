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

// TryAssign matches an available operator to the head of the queue.
// The dequeue is atomic under the queue lock, so concurrent calls can
// never claim the same head. A claimed session that meanwhile left
// AwaitingOperator (user cancel, ticket flow) is a benign race: the
// entry is dropped and the next one is tried, so the operator is never
// left idle while sessions wait.
//
// Returns the assigned session id, or ok=false when the queue is empty
// or the operator is unavailable (neither is an error).
func (e *Engine) TryAssign(ctx context.Context, operatorID string) (string, bool, error) {
	available, err := e.operators.IsOperatorAvailable(ctx, operatorID)
	if err != nil {
		return "", false, err
	}
	if !available {
		e.logger.WithField("operator_id", operatorID).Debug("Operator not available for assignment")
		return "", false, nil
	}
	if max := e.cfg.MaxSessionsPerOperator; max > 0 && e.operatorLoad(operatorID) >= max {
		e.logger.WithField("operator_id", operatorID).Debug("Operator at capacity")
		return "", false, nil
	}

	for {
		entry, ok := e.queue.DequeueHead()
		if !ok {
			return "", false, nil
		}
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))

		claimed, err := e.claim(ctx, entry, operatorID)
		if err != nil {
			return "", false, err
		}
		if claimed {
			return entry.SessionID, true, nil
		}
		// Lost the race for this entry; try the next waiter.
		e.metrics.AssignmentRacesTotal.Inc()
		e.logger.WithFields(logrus.Fields{
			"session_id":  entry.SessionID,
			"operator_id": operatorID,
		}).Debug("Assignment race lost, retrying with next queue entry")
	}
}

// operatorLoad counts in-memory sessions currently held by the
// operator. Per-operator capacity is a local concern: sessions on
// other instances belong to other operators' queues.
func (e *Engine) operatorLoad(operatorID string) int {
	e.mu.Lock()
	slots := make([]*sessionSlot, 0, len(e.slots))
	for _, sl := range e.slots {
		slots = append(slots, sl)
	}
	e.mu.Unlock()

	load := 0
	for _, sl := range slots {
		sl.mu.Lock()
		held := sl.s.AssignedOperatorID == operatorID &&
			(sl.s.State == models.StateWithOperator || sl.s.State == models.StateClosureNegotiation)
		sl.mu.Unlock()
		if held {
			load++
		}
	}
	return load
}

// claim verifies the dequeued session still wants an operator and, if
// so, transitions it to WithOperator. Runs inside the session's
// critical section; the queue lock is NOT held here.
func (e *Engine) claim(ctx context.Context, entry models.QueueEntry, operatorID string) (bool, error) {
	claimed := false
	err := e.withSession(ctx, entry.SessionID, false, func(s *models.Session) error {
		if s.State != models.StateAwaitingOperator {
			return errs.ErrRaceLost
		}
		now := time.Now()
		s.State = models.StateWithOperator
		s.AssignedOperatorID = operatorID
		s.AssignedAt = &now
		s.FirstRespondedAt = nil
		s.QueuedAt = nil
		s.Generation++
		e.cancelTimer(s.ID, models.TimerQueueWait)
		e.startTimer(s, models.TimerFirstResponse, e.cfg.FirstResponseTimeout())
		e.startTimer(s, models.TimerInactivity, e.cfg.InactivityTimeout())
		claimed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrRaceLost) || errors.Is(err, errs.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	e.metrics.AssignmentsTotal.Inc()
	e.logger.WithFields(logrus.Fields{
		"session_id":  entry.SessionID,
		"operator_id": operatorID,
		"waited":      time.Since(entry.EnqueuedAt).String(),
	}).Info("Session assigned to operator")

	text := e.renderOrFallback(template.KeyOperatorAssigned, nil)
	if err := e.notifier.SendToSession(ctx, entry.SessionID, text); err != nil {
		e.logger.WithError(err).WithField("session_id", entry.SessionID).Error("Failed to send assignment notice")
	}
	return claimed, nil
}
