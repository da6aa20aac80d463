package store

import (
	"context"
	"time"

	"chat-escalation-engine/pkg/models"
)

// SessionStore is the durable storage consumed by the engine. The
// engine treats its in-memory state as the source of truth and writes
// behind; implementations only need record CRUD plus the few atomic
// operations below.
//
// SaveSession is compare-and-swap on Session.Version: the save succeeds
// only if the stored version still equals the caller's, otherwise it
// returns ErrVersionConflict and leaves the record untouched. On
// success the session's Version is advanced.
//
// CreateTicket atomically allocates the next ticket number and binds it
// as the session's open ticket; if the session already has one it
// returns that number together with ErrAlreadyExists and creates
// nothing.
type SessionStore interface {
	LoadSession(ctx context.Context, id string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session) error
	CreateTicket(ctx context.Context, t *models.Ticket) (int64, error)
	FindOpenTicket(ctx context.Context, sessionID string) (*models.Ticket, error)
	PutResumeToken(ctx context.Context, token, sessionID string, ttl time.Duration) error
	LookupResumeToken(ctx context.Context, token string) (string, error)
}
