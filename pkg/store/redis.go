package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/metrics"
	"chat-escalation-engine/pkg/models"
)

const (
	sessionKeyPrefix    = "session:"
	sessionVerKeyPrefix = "session:ver:"
	ticketKeyPrefix     = "ticket:"
	openTicketKeyPrefix = "session:open-ticket:"
	resumeKeyPrefix     = "resume:"
	ticketSeqKey        = "ticket:seq"
)

// saveScript performs the compare-and-swap session write: the stored
// version must still equal the caller's observed version (missing key
// counts as version 0).
var saveScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[2])
local expected = tonumber(ARGV[2])
if (not cur and expected == 0) or (cur and tonumber(cur) == expected) then
	redis.call("SET", KEYS[1], ARGV[1])
	redis.call("SET", KEYS[2], expected + 1)
	return 1
end
return 0
`)

// reserveTicketScript allocates the next ticket number unless the
// session already has an open ticket, in which case it returns that
// number with a zero flag.
var reserveTicketScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
	return {0, tonumber(existing)}
end
local n = redis.call("INCR", KEYS[2])
redis.call("SET", KEYS[1], n)
return {1, n}
`)

// RedisStore is the Redis-backed SessionStore.
type RedisStore struct {
	rdb     *redis.Client
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewRedisStore(rdb *redis.Client, logger *logrus.Logger, m *metrics.Metrics) *RedisStore {
	return &RedisStore{rdb: rdb, logger: logger, metrics: m}
}

func (r *RedisStore) observe(op string, start time.Time) {
	r.metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *RedisStore) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	defer r.observe("load_session", time.Now())

	raw, err := r.rdb.Get(ctx, sessionKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, errs.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w: %v", id, errs.ErrStorageUnavailable, err)
	}
	var s models.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) SaveSession(ctx context.Context, s *models.Session) error {
	defer r.observe("save_session", time.Now())

	expected := s.Version
	s.Version++
	raw, err := json.Marshal(s)
	if err != nil {
		s.Version--
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	keys := []string{sessionKeyPrefix + s.ID, sessionVerKeyPrefix + s.ID}
	res, err := saveScript.Run(ctx, r.rdb, keys, raw, expected).Int64()
	if err != nil {
		s.Version--
		return fmt.Errorf("save session %s: %w: %v", s.ID, errs.ErrStorageUnavailable, err)
	}
	if res == 0 {
		s.Version--
		return fmt.Errorf("session %s: %w", s.ID, errs.ErrVersionConflict)
	}
	return nil
}

func (r *RedisStore) CreateTicket(ctx context.Context, t *models.Ticket) (int64, error) {
	defer r.observe("create_ticket", time.Now())

	keys := []string{openTicketKeyPrefix + t.SessionID, ticketSeqKey}
	res, err := reserveTicketScript.Run(ctx, r.rdb, keys).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("reserve ticket for %s: %w: %v", t.SessionID, errs.ErrStorageUnavailable, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("reserve ticket for %s: unexpected script reply", t.SessionID)
	}
	number := res[1]
	if res[0] == 0 {
		return number, errs.ErrAlreadyExists
	}
	t.Number = number
	raw, err := json.Marshal(t)
	if err != nil {
		return number, fmt.Errorf("encode ticket %d: %w", number, err)
	}
	if err := r.rdb.Set(ctx, ticketKey(number), raw, 0).Err(); err != nil {
		// The number stays reserved; FindOpenTicket degrades to a
		// number-only record if this write never lands.
		r.logger.WithError(err).WithField("ticket", number).Error("Failed to write ticket record")
	}
	return number, nil
}

func (r *RedisStore) FindOpenTicket(ctx context.Context, sessionID string) (*models.Ticket, error) {
	defer r.observe("find_open_ticket", time.Now())

	numStr, err := r.rdb.Get(ctx, openTicketKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open ticket for %s: %w: %v", sessionID, errs.ErrStorageUnavailable, err)
	}
	var number int64
	if _, err := fmt.Sscan(numStr, &number); err != nil {
		return nil, fmt.Errorf("open ticket index for %s: bad number %q", sessionID, numStr)
	}
	raw, err := r.rdb.Get(ctx, ticketKey(number)).Result()
	if err == redis.Nil {
		return &models.Ticket{Number: number, SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %d: %w: %v", number, errs.ErrStorageUnavailable, err)
	}
	var t models.Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode ticket %d: %w", number, err)
	}
	return &t, nil
}

func (r *RedisStore) PutResumeToken(ctx context.Context, token, sessionID string, ttl time.Duration) error {
	defer r.observe("put_resume_token", time.Now())

	if err := r.rdb.Set(ctx, resumeKeyPrefix+token, sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("put resume token: %w: %v", errs.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *RedisStore) LookupResumeToken(ctx context.Context, token string) (string, error) {
	defer r.observe("lookup_resume_token", time.Now())

	sessionID, err := r.rdb.Get(ctx, resumeKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", errs.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup resume token: %w: %v", errs.ErrStorageUnavailable, err)
	}
	return sessionID, nil
}

func ticketKey(number int64) string {
	return fmt.Sprintf("%s%d", ticketKeyPrefix, number)
}
