package transport

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// StateEntry is one session_state row, the payload behind
// save_session_state/load_session_state.
type StateEntry struct {
	Key       string
	Data      string
	ExpiresAt time.Time
}

// SaveState upserts a key for a session with a time-to-live.
func (s *SessionStore) SaveState(ctx context.Context, sessionID, key, data string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (session_id, key, data, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		sessionID, key, data, expiresAt)
	return err
}

// LoadState returns the stored data for a key, or ErrNotFound if
// absent or expired.
func (s *SessionStore) LoadState(ctx context.Context, sessionID, key string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT data, expires_at FROM session_state WHERE session_id = ? AND key = ?", sessionID, key)
	var data string
	var expiresAt time.Time
	if err := row.Scan(&data, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if time.Now().UTC().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM session_state WHERE session_id = ? AND key = ?", sessionID, key)
		return "", ErrNotFound
	}
	return data, nil
}

// ListState returns every live key for a session, ordered by key.
func (s *SessionStore) ListState(ctx context.Context, sessionID string) ([]StateEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, data, expires_at FROM session_state WHERE session_id = ? AND expires_at > ? ORDER BY key",
		sessionID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StateEntry
	for rows.Next() {
		var e StateEntry
		if err := rows.Scan(&e.Key, &e.Data, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearState removes one key, or every key for the session when key
// is empty.
func (s *SessionStore) ClearState(ctx context.Context, sessionID, key string) error {
	if key == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM session_state WHERE session_id = ?", sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM session_state WHERE session_id = ? AND key = ?", sessionID, key)
	return err
}
