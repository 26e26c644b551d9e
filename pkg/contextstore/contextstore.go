// Package contextstore implements the shared project-context key/value
// table: view, update, bulk update, delete, and the backup/restore
// pair used for point-in-time recovery of coordination state.
package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrReservedKey is returned when a caller tries to write or delete a
// backup snapshot row directly instead of through Backup/RestoreFrom.
var ErrReservedKey = errors.New("bad_request")

// ErrNotFound is returned when a referenced entry or backup is absent.
var ErrNotFound = errors.New("not_found")

const backupPrefix = "__backup__"

// Entry is one project_context row.
type Entry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedBy   string    `json:"updated_by"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store wraps the project_context table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func isBackupKey(key string) bool {
	return strings.HasPrefix(key, backupPrefix)
}

// View returns the entry for key, or every non-backup entry ordered by
// last_updated descending when key is empty.
func (s *Store) View(ctx context.Context, key string) ([]Entry, error) {
	if key != "" {
		row := s.db.QueryRowContext(ctx,
			"SELECT key, value, description, updated_by, last_updated FROM project_context WHERE key = ?", key)
		e, err := scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return []Entry{*e}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, description, updated_by, last_updated FROM project_context WHERE key NOT LIKE ? ORDER BY last_updated DESC",
		backupPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntry(s interface {
	Scan(dest ...interface{}) error
}) (*Entry, error) {
	var e Entry
	if err := s.Scan(&e.Key, &e.Value, &e.Description, &e.UpdatedBy, &e.LastUpdated); err != nil {
		return nil, err
	}
	return &e, nil
}

// Update upserts a single entry.
func (s *Store) Update(ctx context.Context, key, value, description, updatedBy string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrReservedKey)
	}
	if isBackupKey(key) {
		return fmt.Errorf("%w: %q is a reserved backup key", ErrReservedKey, key)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return upsertTx(ctx, tx, Entry{Key: key, Value: value, Description: description, UpdatedBy: updatedBy, LastUpdated: time.Now().UTC()})
	})
}

// BulkUpdate upserts every entry in one transaction; a single failure
// aborts the whole batch.
func (s *Store) BulkUpdate(ctx context.Context, entries []Entry, updatedBy string) error {
	for _, e := range entries {
		if e.Key == "" {
			return fmt.Errorf("%w: key is required", ErrReservedKey)
		}
		if isBackupKey(e.Key) {
			return fmt.Errorf("%w: %q is a reserved backup key", ErrReservedKey, e.Key)
		}
	}
	now := time.Now().UTC()
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, e := range entries {
			e.UpdatedBy = updatedBy
			e.LastUpdated = now
			if err := upsertTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertTx(ctx context.Context, tx *sql.Tx, e Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO project_context (key, value, description, updated_by, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			updated_by = excluded.updated_by,
			last_updated = excluded.last_updated`,
		e.Key, e.Value, e.Description, e.UpdatedBy, e.LastUpdated)
	return err
}

// Delete removes a non-backup entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	if isBackupKey(key) {
		return fmt.Errorf("%w: %q is a reserved backup key", ErrReservedKey, key)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM project_context WHERE key = ?", key)
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

// backupEnvelope is the JSON value stored under a __backup__<id> key.
type backupEnvelope struct {
	BackupID   string    `json:"backup_id"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `json:"created_by"`
	EntryCount int       `json:"entry_count"`
	Entries    []Entry   `json:"entries"`
}

// Backup snapshots every current non-backup entry into a new
// __backup__<id> row and returns the backup id.
func (s *Store) Backup(ctx context.Context, createdBy string) (string, error) {
	entries, err := s.View(ctx, "")
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	envelope := backupEnvelope{
		BackupID:   id,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  createdBy,
		EntryCount: len(entries),
		Entries:    entries,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		return upsertTx(ctx, tx, Entry{
			Key:         backupPrefix + id,
			Value:       string(data),
			Description: fmt.Sprintf("backup of %d entries", len(entries)),
			UpdatedBy:   createdBy,
			LastUpdated: envelope.CreatedAt,
		})
	})
	return id, err
}

// RestoreFrom re-inserts every entry captured by a prior backup,
// overwriting whatever current value those keys hold.
func (s *Store) RestoreFrom(ctx context.Context, backupID string) error {
	row := s.db.QueryRowContext(ctx, "SELECT value FROM project_context WHERE key = ?", backupPrefix+backupID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var envelope backupEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return fmt.Errorf("decoding backup envelope: %w", err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, e := range envelope.Entries {
			if err := upsertTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConsistencyIssue names one entry that failed a validation check.
type ConsistencyIssue struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ValidateConsistency checks that every non-backup entry's value
// decodes as the JSON blob the data model requires, and that every
// backup envelope it finds still parses and matches its recorded
// entry count. Problems are reported, not repaired.
func (s *Store) ValidateConsistency(ctx context.Context) ([]ConsistencyIssue, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM project_context")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []ConsistencyIssue
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if isBackupKey(key) {
			var envelope backupEnvelope
			if err := json.Unmarshal([]byte(value), &envelope); err != nil {
				issues = append(issues, ConsistencyIssue{Key: key, Reason: "backup envelope is not valid JSON"})
				continue
			}
			if envelope.EntryCount != len(envelope.Entries) {
				issues = append(issues, ConsistencyIssue{Key: key, Reason: "backup entry_count does not match stored entries"})
			}
			continue
		}
		var js json.RawMessage
		if err := json.Unmarshal([]byte(value), &js); err != nil {
			issues = append(issues, ConsistencyIssue{Key: key, Reason: "value is not valid JSON"})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Key < issues[j].Key })
	return issues, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
