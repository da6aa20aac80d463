package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/config"
	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/events"
	"chat-escalation-engine/pkg/metrics"
	"chat-escalation-engine/pkg/models"
	"chat-escalation-engine/pkg/queue"
	"chat-escalation-engine/pkg/store"
	"chat-escalation-engine/pkg/template"
)

// OperatorDirectory answers operator availability questions. It is a
// capability query into an external system, injected so tests can fake
// it deterministically.
type OperatorDirectory interface {
	ListOnlineOperators(ctx context.Context) ([]string, error)
	IsOperatorAvailable(ctx context.Context, id string) (bool, error)
}

// Notifier delivers engine-initiated outbound messages (timer fires,
// assignment notices) to a session's transport channel.
type Notifier interface {
	SendToSession(ctx context.Context, sessionID, text string) error
}

// ReplyGenerator is the opaque "generate reply" capability used while a
// session is AI-handled. Nil falls back to the canned assistant reply.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, sessionID, text string) (string, error)
}

// Deps are the engine's injected collaborators.
type Deps struct {
	Store     store.SessionStore
	Templates *template.Resolver
	Operators OperatorDirectory
	Events    events.Producer
	Notifier  Notifier
	Reply     ReplyGenerator
}

// Engine is the session state machine orchestrator. Every inbound
// event (user message, operator action, timer fire) funnels through a
// per-session critical section; the queue keeps its own innermost lock
// and is never held across blocking work.
type Engine struct {
	cfg       *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	store     store.SessionStore
	queue     *queue.Manager
	templates *template.Resolver
	operators OperatorDirectory
	events    events.Producer
	notifier  Notifier
	reply     ReplyGenerator

	mu    sync.Mutex
	slots map[string]*sessionSlot

	timersMu sync.Mutex
	timers   map[timerKey]timerEntry

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

type sessionSlot struct {
	mu sync.Mutex
	s  *models.Session
}

func New(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics, deps Deps) *Engine {
	if deps.Templates == nil {
		deps.Templates = template.NewDefault()
	}
	if deps.Events == nil {
		deps.Events = events.NopProducer{}
	}
	if deps.Notifier == nil {
		deps.Notifier = &logNotifier{logger: logger}
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		store:     deps.Store,
		queue:     queue.NewManager(),
		templates: deps.Templates,
		operators: deps.Operators,
		events:    deps.Events,
		notifier:  deps.Notifier,
		reply:     deps.Reply,
		slots:     make(map[string]*sessionSlot),
		timers:    make(map[timerKey]timerEntry),
		dirty:     make(map[string]struct{}),
	}
}

// Classify maps raw message text onto the closed inbound event set.
// This runs once at the transport boundary; downstream code never
// re-sniffs the text for commands.
func (e *Engine) Classify(text string) models.InboundEvent {
	vocab := e.templates.Vocab()
	switch {
	case template.Matches(vocab.Cancel, text):
		return models.InboundEvent{Kind: models.EventControl, Command: models.CommandCancel, Text: text}
	case template.Matches(vocab.Escalate, text):
		return models.InboundEvent{Kind: models.EventControl, Command: models.CommandEscalate, Text: text}
	case template.Matches(vocab.Ticket, text):
		return models.InboundEvent{Kind: models.EventControl, Command: models.CommandStartTicket, Text: text}
	default:
		return models.InboundEvent{Kind: models.EventUserText, Text: text}
	}
}

// HandleEvent processes one classified inbound user event. An empty
// session id creates a fresh session and returns its generated token.
func (e *Engine) HandleEvent(ctx context.Context, sessionID string, ev models.InboundEvent) (*models.Reply, error) {
	start := time.Now()
	defer func() {
		e.metrics.EventHandlingDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())
	}()

	created := false
	if sessionID == "" {
		sessionID = uuid.New().String()
		created = true
	}

	var text string
	err := e.withSession(ctx, sessionID, true, func(s *models.Session) error {
		s.LastActivityAt = time.Now()
		var herr error
		switch ev.Kind {
		case models.EventControl:
			text, herr = e.handleControl(ctx, s, ev.Command)
		default:
			if created && s.State == models.StateAiHandled {
				text = e.renderOrFallback(template.KeyWelcome, nil)
			} else {
				text, herr = e.handleUserText(ctx, s, ev.Text)
			}
		}
		return herr
	})
	if err != nil {
		return e.errorReply(sessionID, err), err
	}
	return &models.Reply{SessionID: sessionID, Text: text, State: e.sessionState(sessionID)}, nil
}

// HandleOperatorAction processes an operator-originated action against
// an existing session.
func (e *Engine) HandleOperatorAction(ctx context.Context, sessionID, operatorID string, action models.OperatorActionKind) (*models.Reply, error) {
	start := time.Now()
	defer func() {
		e.metrics.EventHandlingDuration.WithLabelValues("operator_action").Observe(time.Since(start).Seconds())
	}()

	var text string
	err := e.withSession(ctx, sessionID, false, func(s *models.Session) error {
		switch action {
		case models.OperatorOfferClose:
			if s.State != models.StateWithOperator {
				return errs.ErrInvalidTransition
			}
			s.State = models.StateClosureNegotiation
			s.Generation++
			e.cancelTimer(s.ID, models.TimerFirstResponse)
			e.cancelTimer(s.ID, models.TimerInactivity)
			text = e.renderOrFallback(template.KeyClosureOffer, nil)
			return nil
		case models.OperatorMessage:
			if s.State != models.StateWithOperator {
				return errs.ErrInvalidTransition
			}
			now := time.Now()
			s.LastActivityAt = now
			if s.FirstRespondedAt == nil {
				s.FirstRespondedAt = &now
			}
			e.cancelTimer(s.ID, models.TimerFirstResponse)
			e.startTimer(s, models.TimerInactivity, e.cfg.InactivityTimeout())
			return nil
		default:
			return fmt.Errorf("unknown operator action %q: %w", action, errs.ErrValidationFailed)
		}
	})
	if err != nil {
		return e.errorReply(sessionID, err), err
	}
	return &models.Reply{SessionID: sessionID, Text: text, State: e.sessionState(sessionID)}, nil
}

// Resume maps a ticket resume token back to its session id.
func (e *Engine) Resume(ctx context.Context, token string) (string, error) {
	var sessionID string
	err := e.withStorageRetry(ctx, func() error {
		var lerr error
		sessionID, lerr = e.store.LookupResumeToken(ctx, token)
		return lerr
	})
	return sessionID, err
}

func (e *Engine) handleUserText(ctx context.Context, s *models.Session, text string) (string, error) {
	switch s.State {
	case models.StateAiHandled:
		return e.generateAiReply(ctx, s, text), nil
	case models.StateAwaitingOperator:
		return e.renderOrFallback(template.KeyEscalationQueued, nil), nil
	case models.StateWithOperator:
		// Message relay to the operator is a transport concern; the
		// core only refreshes the inactivity window.
		e.startTimer(s, models.TimerInactivity, e.cfg.InactivityTimeout())
		return "", nil
	case models.StateClosureNegotiation:
		return e.handleClosureChoice(s, text)
	case models.StateTicketFlow:
		return e.handleTicketFlowInput(ctx, s, text)
	default:
		return "", errs.ErrInvalidTransition
	}
}

func (e *Engine) handleClosureChoice(s *models.Session, text string) (string, error) {
	vocab := e.templates.Vocab()
	switch {
	case template.Matches(vocab.Continue, text):
		s.State = models.StateWithOperator
		s.Generation++
		// The operator still owes a first reply unless one was sent
		// before the closure offer.
		if s.FirstRespondedAt == nil {
			e.startTimer(s, models.TimerFirstResponse, e.cfg.FirstResponseTimeout())
		}
		e.startTimer(s, models.TimerInactivity, e.cfg.InactivityTimeout())
		return e.renderOrFallback(template.KeyClosureResumed, nil), nil
	case template.Matches(vocab.End, text):
		e.endOperatorConversation(s)
		return e.renderOrFallback(template.KeyGoodbye, nil), nil
	default:
		// Not one of the two choices: repeat the prompt.
		return e.renderOrFallback(template.KeyClosureOffer, nil), nil
	}
}

func (e *Engine) handleControl(ctx context.Context, s *models.Session, cmd models.CommandKind) (string, error) {
	switch cmd {
	case models.CommandEscalate:
		return e.handleEscalate(ctx, s)
	case models.CommandCancel:
		return e.handleCancel(s)
	case models.CommandStartTicket:
		return e.enterTicketFlow(ctx, s)
	default:
		return "", errs.ErrInvalidTransition
	}
}

func (e *Engine) handleEscalate(ctx context.Context, s *models.Session) (string, error) {
	switch s.State {
	case models.StateAiHandled:
		online, err := e.operators.ListOnlineOperators(ctx)
		if err != nil {
			e.logger.WithError(err).Warn("Operator directory unavailable, treating as no capacity")
		}
		if len(online) == 0 {
			// No operators: skip the queue entirely and offer the
			// ticket path instead.
			e.metrics.EscalationsTotal.WithLabelValues("no_capacity").Inc()
			return e.renderOrFallback(template.KeyNoOperators, nil), nil
		}
		now := time.Now()
		if err := e.queue.Enqueue(s.ID, now, false); err != nil && !errors.Is(err, errs.ErrAlreadyQueued) {
			return "", err
		}
		s.State = models.StateAwaitingOperator
		s.QueuedAt = &now
		s.Generation++
		e.startTimer(s, models.TimerQueueWait, e.cfg.QueueWaitTimeout())
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
		e.metrics.EscalationsTotal.WithLabelValues("queued").Inc()
		e.logger.WithFields(logrus.Fields{
			"session_id":  s.ID,
			"queue_depth": e.queue.Len(),
		}).Info("Session queued for operator")
		return e.renderOrFallback(template.KeyEscalationQueued, nil), nil
	case models.StateAwaitingOperator:
		// Repeat escalation while queued is a no-op.
		return e.renderOrFallback(template.KeyEscalationQueued, nil), nil
	case models.StateWithOperator, models.StateClosureNegotiation:
		return e.renderOrFallback(template.KeyOperatorAssigned, nil), nil
	case models.StateTicketFlow:
		return e.flowPrompt(s), nil
	default:
		return "", errs.ErrInvalidTransition
	}
}

func (e *Engine) handleCancel(s *models.Session) (string, error) {
	switch s.State {
	case models.StateAwaitingOperator:
		e.queue.Remove(s.ID)
		e.cancelTimer(s.ID, models.TimerQueueWait)
		s.State = models.StateAiHandled
		s.QueuedAt = nil
		s.Generation++
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
		e.logger.WithField("session_id", s.ID).Info("Operator request cancelled by user")
		return e.renderOrFallback(template.KeyEscalationCanceled, nil), nil
	case models.StateTicketFlow:
		e.abandonTicketFlow(s)
		return e.renderOrFallback(template.KeyTicketCancelled, nil), nil
	default:
		return e.renderOrFallback(template.KeyNothingToCancel, nil), nil
	}
}

func (e *Engine) endOperatorConversation(s *models.Session) {
	s.State = models.StateAiHandled
	s.AssignedOperatorID = ""
	s.AssignedAt = nil
	s.FirstRespondedAt = nil
	s.QueuedAt = nil
	s.Generation++
	e.cancelAllTimers(s.ID)
}

func (e *Engine) generateAiReply(ctx context.Context, s *models.Session, text string) string {
	if e.reply != nil {
		generated, err := e.reply.GenerateReply(ctx, s.ID, text)
		if err == nil {
			return generated
		}
		e.logger.WithError(err).WithField("session_id", s.ID).Warn("Reply generator failed, using canned reply")
	}
	return e.renderOrFallback(template.KeyAiReply, nil)
}

// withSession acquires the per-session critical section, loading the
// session into memory first if needed. The callback runs with the
// session lock held; the queue and timer locks nest inside it.
func (e *Engine) withSession(ctx context.Context, id string, create bool, fn func(s *models.Session) error) error {
	slot, err := e.slot(ctx, id, create)
	if err != nil {
		return err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.s.State == models.StateArchived {
		// A message on an archived session revives it.
		slot.s.State = models.StateAiHandled
		slot.s.Generation++
	}
	if err := fn(slot.s); err != nil {
		return err
	}
	e.markDirty(id)
	return nil
}

func (e *Engine) slot(ctx context.Context, id string, create bool) (*sessionSlot, error) {
	e.mu.Lock()
	if slot, ok := e.slots[id]; ok {
		e.mu.Unlock()
		return slot, nil
	}
	e.mu.Unlock()

	// Load outside the map lock; storage may be slow.
	s, err := e.loadOrCreate(ctx, id, create)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if slot, ok := e.slots[id]; ok {
		// Another goroutine won the load race.
		return slot, nil
	}
	slot := &sessionSlot{s: s}
	e.slots[id] = slot
	return slot, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, id string, create bool) (*models.Session, error) {
	var s *models.Session
	err := e.withStorageRetry(ctx, func() error {
		var lerr error
		s, lerr = e.store.LoadSession(ctx, id)
		return lerr
	})
	if err == nil {
		return s, nil
	}
	if errors.Is(err, errs.ErrSessionNotFound) && create {
		now := time.Now()
		return &models.Session{
			ID:             id,
			State:          models.StateAiHandled,
			CreatedAt:      now,
			LastActivityAt: now,
		}, nil
	}
	return nil, err
}

// withStorageRetry retries transient storage failures with exponential
// backoff. Non-transient errors pass through immediately.
func (e *Engine) withStorageRetry(ctx context.Context, fn func() error) error {
	backoff := e.cfg.StorageBackoff()
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, errs.ErrStorageUnavailable) {
			return err
		}
		if attempt >= e.cfg.StorageRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (e *Engine) markDirty(id string) {
	e.dirtyMu.Lock()
	e.dirty[id] = struct{}{}
	e.dirtyMu.Unlock()
}

func (e *Engine) renderOrFallback(key string, vars map[string]string) string {
	text, err := e.templates.Render(key, vars)
	if err != nil {
		e.logger.WithError(err).WithField("template", key).Warn("Template missing, using fallback text")
		e.metrics.TemplateFallbacksTotal.Inc()
		return e.templates.FallbackText()
	}
	return text
}

func (e *Engine) errorReply(sessionID string, err error) *models.Reply {
	text := e.templates.FallbackText()
	if errors.Is(err, errs.ErrStorageUnavailable) {
		text = e.renderOrFallback(template.KeyStorageRetry, nil)
	}
	return &models.Reply{SessionID: sessionID, Text: text, State: e.sessionState(sessionID)}
}

func (e *Engine) sessionState(id string) models.SessionState {
	e.mu.Lock()
	slot, ok := e.slots[id]
	e.mu.Unlock()
	if !ok {
		return ""
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.s.State
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	QueueDepth       int `json:"queue_depth"`
	InMemorySessions int `json:"in_memory_sessions"`
	ActiveTimers     int `json:"active_timers"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	sessions := len(e.slots)
	e.mu.Unlock()
	e.timersMu.Lock()
	timers := len(e.timers)
	e.timersMu.Unlock()
	return Stats{
		QueueDepth:       e.queue.Len(),
		InMemorySessions: sessions,
		ActiveTimers:     timers,
	}
}

type logNotifier struct {
	logger *logrus.Logger
}

func (n *logNotifier) SendToSession(_ context.Context, sessionID, text string) error {
	n.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"text":       text,
	}).Info("Outbound session notification")
	return nil
}

// StaticDirectory is an OperatorDirectory over a fixed operator list,
// used when no external directory is wired in.
type StaticDirectory struct {
	IDs []string
}

func (d StaticDirectory) ListOnlineOperators(_ context.Context) ([]string, error) {
	return append([]string(nil), d.IDs...), nil
}

func (d StaticDirectory) IsOperatorAvailable(_ context.Context, id string) (bool, error) {
	for _, known := range d.IDs {
		if strings.EqualFold(known, id) {
			return true, nil
		}
	}
	return false, nil
}
