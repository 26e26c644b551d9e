package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// sourceHash returns a stable content hash used to detect unchanged
// sources between indexing cycles.
func sourceHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func getMetadata(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var v string
	err := db.QueryRowContext(ctx, "SELECT value FROM index_metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func setMetadata(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO index_metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

func lastIndexedTime(ctx context.Context, db *sql.DB, sourceType string) (time.Time, error) {
	v, ok, err := getMetadata(ctx, db, "last_indexed_"+sourceType)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func storedHash(ctx context.Context, db *sql.DB, sourceRef string) (string, error) {
	v, _, err := getMetadata(ctx, db, "hash_"+sourceRef)
	return v, err
}

// deleteChunksForSource removes every prior chunk row for sourceRef,
// returning their ids so the caller can cascade the paired vector rows.
func deleteChunksForSource(ctx context.Context, tx *sql.Tx, sourceRef string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT chunk_id FROM chunks WHERE source_ref = ?", sourceRef)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE source_ref = ?", sourceRef); err != nil {
		return nil, err
	}
	return ids, nil
}

type chunkInsert struct {
	sourceType string
	sourceRef  string
	text       string
	metadata   map[string]any
}

// insertChunk writes one chunk row and returns its id, which doubles
// as the paired embedding row id in the vector index.
func insertChunk(ctx context.Context, tx *sql.Tx, c chunkInsert) (int64, error) {
	meta, err := json.Marshal(c.metadata)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO chunks (source_type, source_ref, chunk_text, metadata, indexed_at) VALUES (?, ?, ?, ?, ?)",
		c.sourceType, c.sourceRef, c.text, string(meta), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ChunkRow is a chunk joined with its metadata, as read back for the
// retriever's vector-hit join.
type ChunkRow struct {
	ID         int64
	SourceType string
	SourceRef  string
	Text       string
}

func getChunk(ctx context.Context, db *sql.DB, id int64) (*ChunkRow, error) {
	var c ChunkRow
	err := db.QueryRowContext(ctx, "SELECT chunk_id, source_type, source_ref, chunk_text FROM chunks WHERE chunk_id = ?", id).
		Scan(&c.ID, &c.SourceType, &c.SourceRef, &c.Text)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("knowledge: chunk %d not found", id)
	}
	return &c, err
}
