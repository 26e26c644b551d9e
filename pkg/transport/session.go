// Package transport implements the wire layer: a streamable HTTP
// endpoint (create-stream/post-message/close) with a legacy
// server-sent-events fallback, a recoverable session table, and the
// per-session state store backing save_session_state and friends.
package transport

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a transport session's lifecycle state.
type Status string

const (
	StatusLive    Status = "live"
	StatusIdle    Status = "idle"
	StatusExpired Status = "expired"
)

// ErrNotFound is returned when a referenced session or state key does
// not exist.
var ErrNotFound = errors.New("not_found")

type sessionIDKey struct{}

// WithSessionID attaches the transport session id carried by the
// current request to ctx, so handlers dispatched beneath it (session
// state tools) can recover it without threading it through params.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id attached by
// WithSessionID, if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok && id != ""
}

// Session is one transport_sessions row.
type Session struct {
	ID            string
	BoundAgentID  *string
	CreatedAt     time.Time
	LastHeartbeat time.Time
	ExpiresAt     time.Time
	Status        Status
}

// SessionStore wraps transport_sessions and session_state.
type SessionStore struct {
	db           *sql.DB
	gracePeriod  time.Duration
	idleAfter    time.Duration
}

func NewSessionStore(db *sql.DB, gracePeriod, idleAfter time.Duration) *SessionStore {
	return &SessionStore{db: db, gracePeriod: gracePeriod, idleAfter: idleAfter}
}

// Open allocates a new session bound to the caller's resolved
// identity, or rebinds and revives an existing session id passed by a
// reconnecting client within its grace period.
func (s *SessionStore) Open(ctx context.Context, requestedID string, boundAgentID *string) (*Session, error) {
	now := time.Now().UTC()
	if requestedID != "" {
		existing, err := s.Get(ctx, requestedID)
		if err == nil {
			existing.LastHeartbeat = now
			existing.ExpiresAt = now.Add(s.gracePeriod)
			existing.Status = StatusLive
			if err := s.touch(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	id := requestedID
	if id == "" {
		id = uuid.NewString()
	}
	sess := &Session{
		ID:            id,
		BoundAgentID:  boundAgentID,
		CreatedAt:     now,
		LastHeartbeat: now,
		ExpiresAt:     now.Add(s.gracePeriod),
		Status:        StatusLive,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transport_sessions (id, bound_agent_id, created_at, last_heartbeat, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, nullableString(sess.BoundAgentID), sess.CreatedAt, sess.LastHeartbeat, sess.ExpiresAt, string(sess.Status))
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Heartbeat slides last_heartbeat and expires_at forward for an
// in-flight request on an existing session.
func (s *SessionStore) Heartbeat(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess.LastHeartbeat = now
	sess.ExpiresAt = now.Add(s.gracePeriod)
	sess.Status = StatusLive
	if err := s.touch(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) touch(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE transport_sessions SET last_heartbeat = ?, expires_at = ?, status = ? WHERE id = ?",
		sess.LastHeartbeat, sess.ExpiresAt, string(sess.Status), sess.ID)
	return err
}

// Close marks a session closed by a caller-initiated disconnect. Per
// the recovery contract this does not delete the row; it remains
// recoverable until the sweeper expires it.
func (s *SessionStore) Close(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transport_sessions SET status = ? WHERE id = ?", string(StatusIdle), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, bound_agent_id, created_at, last_heartbeat, expires_at, status FROM transport_sessions WHERE id = ?", id)
	var sess Session
	var boundAgent sql.NullString
	var status string
	if err := row.Scan(&sess.ID, &boundAgent, &sess.CreatedAt, &sess.LastHeartbeat, &sess.ExpiresAt, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if boundAgent.Valid {
		sess.BoundAgentID = &boundAgent.String
	}
	sess.Status = Status(status)
	return &sess, nil
}

// Counts summarizes the session table for the /sessions endpoint.
type Counts struct {
	Live    int
	Idle    int
	Expired int
}

func (s *SessionStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM transport_sessions GROUP BY status")
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch Status(status) {
		case StatusLive:
			c.Live = n
		case StatusIdle:
			c.Idle = n
		case StatusExpired:
			c.Expired = n
		}
	}
	return c, rows.Err()
}

// Sweep transitions idle-by-inactivity sessions and purges expired
// ones along with their per-session state. Returns the number of
// sessions purged.
func (s *SessionStore) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx, "SELECT id, last_heartbeat, expires_at, status FROM transport_sessions")
	if err != nil {
		return 0, err
	}
	var toIdle, toExpire []string
	for rows.Next() {
		var id, status string
		var lastHeartbeat, expiresAt time.Time
		if err := rows.Scan(&id, &lastHeartbeat, &expiresAt, &status); err != nil {
			rows.Close()
			return 0, err
		}
		if Status(status) == StatusExpired {
			continue
		}
		if now.After(expiresAt) {
			toExpire = append(toExpire, id)
			continue
		}
		if Status(status) == StatusLive && now.Sub(lastHeartbeat) > s.idleAfter {
			toIdle = append(toIdle, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range toIdle {
		if _, err := s.db.ExecContext(ctx, "UPDATE transport_sessions SET status = ? WHERE id = ?", string(StatusIdle), id); err != nil {
			return 0, err
		}
	}
	for _, id := range toExpire {
		if err := s.purge(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(toExpire), nil
}

func (s *SessionStore) purge(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_state WHERE session_id = ?", id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM transport_sessions WHERE id = ?", id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
