package models

import "time"

// SessionState is the top-level lifecycle state of a chat session.
type SessionState string

const (
	StateAiHandled          SessionState = "ai_handled"
	StateAwaitingOperator   SessionState = "awaiting_operator"
	StateWithOperator       SessionState = "with_operator"
	StateClosureNegotiation SessionState = "closure_negotiation"
	StateTicketFlow         SessionState = "ticket_flow"
	StateArchived           SessionState = "archived"
)

// TicketFlowState is the sub-state while a session is collecting ticket
// data. The flow has no stored terminal states: completion or
// cancellation clears the session's TicketFlow record entirely.
type TicketFlowState string

const (
	FlowAwaitingName           TicketFlowState = "awaiting_name"
	FlowAwaitingContact        TicketFlowState = "awaiting_contact"
	FlowAwaitingAdditionalInfo TicketFlowState = "awaiting_additional_info"
)

// TimerKind identifies one of the per-session SLA timers. At most one
// timer per (session, kind) is active at any time.
type TimerKind string

const (
	TimerQueueWait     TimerKind = "queue_wait"
	TimerFirstResponse TimerKind = "first_response"
	TimerInactivity    TimerKind = "inactivity"
)

// UserInfo holds the contact data captured during the ticket flow.
type UserInfo struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// TicketFlowProgress is the working state of the nested ticket sub-flow.
// Present on a session only while the flow is active.
type TicketFlowProgress struct {
	State   TicketFlowState `json:"state"`
	Name    string          `json:"name,omitempty"`
	Contact string          `json:"contact,omitempty"`
	Notes   []string        `json:"notes,omitempty"`
}

// Session is the unit of state the engine manages. The in-memory copy is
// the source of truth; Version is the storage compare-and-swap counter,
// Generation stamps every state transition so stale timer fires can be
// detected.
type Session struct {
	ID          string       `json:"id"`
	State       SessionState `json:"state"`
	ResumeState SessionState `json:"resume_state,omitempty"`
	Generation  uint64       `json:"generation"`
	Version     uint64       `json:"version"`

	AssignedOperatorID string              `json:"assigned_operator_id,omitempty"`
	TicketID           int64               `json:"ticket_id,omitempty"`
	UserInfo           UserInfo            `json:"user_info"`
	TicketFlow         *TicketFlowProgress `json:"ticket_flow,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	QueuedAt         *time.Time `json:"queued_at,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	FirstRespondedAt *time.Time `json:"first_responded_at,omitempty"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
}

// QueueEntry is a session waiting for an operator. A session appears in
// the queue at most once.
type QueueEntry struct {
	SessionID  string    `json:"session_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Priority   bool      `json:"priority"`
}

// Ticket is the fallback record created when no operator conversation
// resolves the request. Number is allocated from a sequential counter.
type Ticket struct {
	Number      int64     `json:"number"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Contact     string    `json:"contact"`
	Notes       string    `json:"notes,omitempty"`
	ResumeToken string    `json:"resume_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventKind discriminates inbound user events. Classification happens
// once at the transport boundary and is never re-derived downstream.
type EventKind string

const (
	EventUserText EventKind = "user_text"
	EventControl  EventKind = "control"
)

// CommandKind is the recognized set of user control commands.
type CommandKind string

const (
	CommandEscalate    CommandKind = "escalate"
	CommandCancel      CommandKind = "cancel"
	CommandStartTicket CommandKind = "start_ticket"
)

// OperatorActionKind is the recognized set of operator actions.
type OperatorActionKind string

const (
	OperatorOfferClose OperatorActionKind = "offer_close"
	OperatorMessage    OperatorActionKind = "message"
)

// InboundEvent is a classified user message.
type InboundEvent struct {
	Kind    EventKind   `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Command CommandKind `json:"command,omitempty"`
}

// Reply is the outcome of handling one inbound event.
type Reply struct {
	SessionID string       `json:"session_id"`
	Text      string       `json:"text,omitempty"`
	State     SessionState `json:"state"`
}
