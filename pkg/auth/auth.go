// Package auth resolves admin/agent roles from opaque tokens and binds
// transport sessions to them. Tokens are 128 bits of crypto/rand,
// hex-encoded, never JWTs: verification requires a genuine lookup
// match, not a self-describing signed token.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
)

// Role identifies the caller class resolved from a token.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)

// minTokenLength and the hex character class are the minimum bar
// Verify enforces before even attempting a store lookup.
const minTokenLength = 32

// Identity is the result of a successful verify().
type Identity struct {
	Role    Role
	AgentID string // empty for admin
}

// Auth resolves tokens against the store's agents table and a
// singleton admin token row in index_metadata.
type Auth struct {
	db *sql.DB
}

func New(db *sql.DB) *Auth {
	return &Auth{db: db}
}

const adminTokenKey = "admin_token"

// EnsureAdminToken generates and persists the admin token on first
// boot if one does not already exist, and returns it either way.
func (a *Auth) EnsureAdminToken(ctx context.Context) (string, error) {
	var token string
	row := a.db.QueryRowContext(ctx, "SELECT value FROM index_metadata WHERE key = ?", adminTokenKey)
	err := row.Scan(&token)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("reading admin token: %w", err)
	}

	token, err = GenerateToken()
	if err != nil {
		return "", err
	}
	if _, err := a.db.ExecContext(ctx,
		"INSERT INTO index_metadata (key, value) VALUES (?, ?)", adminTokenKey, token); err != nil {
		return "", fmt.Errorf("persisting admin token: %w", err)
	}
	return token, nil
}

// GenerateToken returns a fresh opaque 128-bit hex token.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isWellFormed(token string) bool {
	if len(token) < minTokenLength {
		return false
	}
	for _, r := range token {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// Verify resolves a token to an Identity. It never distinguishes
// between "malformed" and "not found" in its returned error, to avoid
// leaking which tokens are close-but-wrong.
func (a *Auth) Verify(ctx context.Context, token string) (Identity, error) {
	if !isWellFormed(token) {
		return Identity{}, ErrInvalidToken
	}

	adminToken, err := a.EnsureAdminToken(ctx)
	if err != nil {
		return Identity{}, err
	}
	if subtleEqual(token, adminToken) {
		return Identity{Role: RoleAdmin}, nil
	}

	var agentID string
	row := a.db.QueryRowContext(ctx, "SELECT id FROM agents WHERE token = ?", token)
	if err := row.Scan(&agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("looking up agent token: %w", err)
	}
	return Identity{Role: RoleAgent, AgentID: agentID}, nil
}

// subtleEqual is a constant-time-ish comparison: inputs of different
// lengths return false at once, and equal-length inputs are compared
// over every byte without stopping at the first difference. At this
// token length the timing signal is negligible.
func subtleEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	diff := 0
	for i := range a {
		diff |= int(a[i]) ^ int(b[i])
	}
	return diff == 0
}

// IssueAgentToken generates a fresh token suitable for assignment to a
// new agent row. It does not persist anything itself; the caller
// (agent supervisor) writes it as part of agent creation.
func IssueAgentToken() (string, error) {
	return GenerateToken()
}

// Fingerprint returns a masked form of a token suitable for the
// resource surface: tokens never appear unmasked outside a privileged
// reveal action.
func Fingerprint(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
