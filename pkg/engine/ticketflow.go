package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
	"chat-escalation-engine/pkg/template"
	"chat-escalation-engine/pkg/validate"
)

// enterTicketFlow starts the ticket data collection sub-flow. Entry is
// guarded twice: a session already inside a sub-flow cannot nest a
// second one, and a session with an open ticket short-circuits to the
// "already exists" response without entering the flow at all.
func (e *Engine) enterTicketFlow(ctx context.Context, s *models.Session) (string, error) {
	if s.State == models.StateTicketFlow {
		return "", fmt.Errorf("ticket flow already active for %s: %w", s.ID, errs.ErrInvalidTransition)
	}
	if s.State != models.StateAiHandled && s.State != models.StateAwaitingOperator {
		return "", fmt.Errorf("ticket flow not reachable from %s: %w", s.State, errs.ErrInvalidTransition)
	}

	existing, err := e.findOpenTicket(ctx, s.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return e.renderOrFallback(template.KeyTicketExists, map[string]string{
			"number": strconv.FormatInt(existing.Number, 10),
		}), nil
	}

	s.ResumeState = s.State
	s.State = models.StateTicketFlow
	s.TicketFlow = &models.TicketFlowProgress{State: models.FlowAwaitingName}
	s.Generation++
	e.logger.WithField("session_id", s.ID).Info("Ticket flow started")
	return e.renderOrFallback(template.KeyTicketAskName, nil), nil
}

func (e *Engine) handleTicketFlowInput(ctx context.Context, s *models.Session, text string) (string, error) {
	f := s.TicketFlow
	if f == nil {
		return "", fmt.Errorf("session %s in ticket flow without progress: %w", s.ID, errs.ErrInvalidTransition)
	}
	trimmed := strings.TrimSpace(text)

	switch f.State {
	case models.FlowAwaitingName:
		if !validate.Name(trimmed) {
			return e.renderOrFallback(template.KeyTicketNameInvalid, nil), nil
		}
		f.Name = trimmed
		f.State = models.FlowAwaitingContact
		return e.renderOrFallback(template.KeyTicketAskContact, map[string]string{"name": f.Name}), nil

	case models.FlowAwaitingContact:
		if !validate.Contact(trimmed) {
			return e.renderOrFallback(template.KeyTicketContactBad, nil), nil
		}
		f.Contact = trimmed
		f.State = models.FlowAwaitingAdditionalInfo
		return e.renderOrFallback(template.KeyTicketAskNotes, map[string]string{"contact": f.Contact}), nil

	case models.FlowAwaitingAdditionalInfo:
		if template.Matches(e.templates.Vocab().Skip, text) {
			return e.completeTicketFlow(ctx, s)
		}
		f.Notes = append(f.Notes, trimmed)
		return e.renderOrFallback(template.KeyTicketNotesAdded, nil), nil

	default:
		return "", fmt.Errorf("ticket flow in state %s: %w", f.State, errs.ErrInvalidTransition)
	}
}

// completeTicketFlow creates the ticket and hands control back to the
// state the session held before entering the flow. On a transient
// storage failure the flow state is left untouched so the user can
// simply retry: ticket creation and flow teardown commit as one unit
// or not at all.
func (e *Engine) completeTicketFlow(ctx context.Context, s *models.Session) (string, error) {
	f := s.TicketFlow
	ticket := &models.Ticket{
		SessionID:   s.ID,
		Name:        f.Name,
		Contact:     f.Contact,
		Notes:       strings.Join(f.Notes, "\n"),
		ResumeToken: uuid.New().String(),
		CreatedAt:   time.Now(),
	}

	var number int64
	err := e.withStorageRetry(ctx, func() error {
		var cerr error
		number, cerr = e.store.CreateTicket(ctx, ticket)
		return cerr
	})
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			// Raced with an earlier creation for this session: report
			// the existing number instead of a duplicate.
			e.restoreFromFlow(s)
			return e.renderOrFallback(template.KeyTicketExists, map[string]string{
				"number": strconv.FormatInt(number, 10),
			}), nil
		}
		return e.renderOrFallback(template.KeyStorageRetry, nil), nil
	}

	if err := e.store.PutResumeToken(ctx, ticket.ResumeToken, s.ID, e.cfg.ResumeTokenTTL()); err != nil {
		e.logger.WithError(err).WithField("session_id", s.ID).Error("Failed to store resume token")
	}

	s.TicketID = number
	s.UserInfo = models.UserInfo{Name: f.Name, Contact: f.Contact}
	e.restoreFromFlow(s)

	e.metrics.TicketsCreatedTotal.Inc()
	e.logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"ticket":     number,
	}).Info("Ticket created")

	// Fire-and-forget: the event must go out even if the request
	// context is cancelled, but with a bound.
	go func() {
		eventCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.events.PublishTicketCreated(eventCtx, ticket)
	}()

	return e.renderOrFallback(template.KeyTicketCreated, map[string]string{
		"number": strconv.FormatInt(number, 10),
	}), nil
}

// abandonTicketFlow discards collected data and restores the pre-flow
// state.
func (e *Engine) abandonTicketFlow(s *models.Session) {
	e.restoreFromFlow(s)
	e.logger.WithField("session_id", s.ID).Info("Ticket flow cancelled")
}

// restoreFromFlow pops the one-level resume stack. A session that was
// waiting for an operator goes back to waiting, re-queued at the
// priority tier for the time already spent.
func (e *Engine) restoreFromFlow(s *models.Session) {
	prev := s.ResumeState
	if prev == "" {
		prev = models.StateAiHandled
	}
	s.TicketFlow = nil
	s.ResumeState = ""
	s.State = prev
	s.Generation++

	if prev == models.StateAwaitingOperator {
		enqueuedAt := time.Now()
		if s.QueuedAt != nil {
			enqueuedAt = *s.QueuedAt
		}
		if err := e.queue.Enqueue(s.ID, enqueuedAt, true); errors.Is(err, errs.ErrAlreadyQueued) {
			e.queue.Promote(s.ID)
		}
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
		e.startTimer(s, models.TimerQueueWait, e.cfg.QueueWaitTimeout())
	} else {
		s.QueuedAt = nil
	}
}

// flowPrompt repeats the prompt for the current ticket flow step.
func (e *Engine) flowPrompt(s *models.Session) string {
	if s.TicketFlow == nil {
		return e.renderOrFallback(template.KeyTicketAskName, nil)
	}
	switch s.TicketFlow.State {
	case models.FlowAwaitingContact:
		return e.renderOrFallback(template.KeyTicketAskContact, map[string]string{"name": s.TicketFlow.Name})
	case models.FlowAwaitingAdditionalInfo:
		return e.renderOrFallback(template.KeyTicketAskNotes, map[string]string{"contact": s.TicketFlow.Contact})
	default:
		return e.renderOrFallback(template.KeyTicketAskName, nil)
	}
}

func (e *Engine) findOpenTicket(ctx context.Context, sessionID string) (*models.Ticket, error) {
	var t *models.Ticket
	err := e.withStorageRetry(ctx, func() error {
		var lerr error
		t, lerr = e.store.FindOpenTicket(ctx, sessionID)
		return lerr
	})
	return t, err
}
