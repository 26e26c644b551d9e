// Package mux is a thin wrapper over an external terminal multiplexer
// (tmux by default). It isolates three concerns: session-name
// sanitization, a two-phase bootstrap write, and graceful degradation
// when the multiplexer binary is absent.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Adapter drives an external multiplexer binary via exec.CommandContext.
type Adapter struct {
	bin string
}

func New(bin string) *Adapter {
	if bin == "" {
		bin = "tmux"
	}
	return &Adapter{bin: bin}
}

// Available reports whether the multiplexer binary can be invoked at
// all. A missing binary is never fatal to agent creation: callers
// should log a warning and continue, since agents can still be created
// for external attachment.
func (a *Adapter) Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, a.bin, "-V")
	return cmd.Run() == nil
}

// SanitizeSessionName restricts a raw session name to letters, digits,
// dash, and underscore, replacing anything else with underscore.
func SanitizeSessionName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "session"
	}
	return name
}

// Create starts a new multiplexer session at cwd. It does not error
// when the multiplexer binary is missing; it logs a warning and
// returns nil so the caller can proceed without a worker session.
func (a *Adapter) Create(ctx context.Context, session, cwd string) error {
	name := SanitizeSessionName(session)
	if !a.Available(ctx) {
		slog.Warn("multiplexer unavailable, skipping worker session creation", "session", name)
		return nil
	}
	cmd := exec.CommandContext(ctx, a.bin, "new-session", "-d", "-s", name, "-c", cwd)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating multiplexer session %s: %w: %s", name, err, out)
	}
	return nil
}

// SendKeys sends a literal line of text to the session, followed by a
// delayed Enter keystroke at least 500ms later. Some clients race on a
// combined single write, so the newline is a distinct send-keys
// invocation.
func (a *Adapter) SendKeys(ctx context.Context, session, text string) error {
	name := SanitizeSessionName(session)
	if err := a.sendLiteral(ctx, name, text); err != nil {
		return err
	}
	time.Sleep(500 * time.Millisecond)
	return a.sendEnter(ctx, name)
}

func (a *Adapter) sendLiteral(ctx context.Context, name, text string) error {
	cmd := exec.CommandContext(ctx, a.bin, "send-keys", "-t", name, "-l", text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sending keys to %s: %w: %s", name, err, out)
	}
	return nil
}

func (a *Adapter) sendEnter(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, a.bin, "send-keys", "-t", name, "Enter")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sending Enter to %s: %w: %s", name, err, out)
	}
	return nil
}

// Capture returns the current visible text buffer of the session.
func (a *Adapter) Capture(ctx context.Context, session string) (string, error) {
	name := SanitizeSessionName(session)
	cmd := exec.CommandContext(ctx, a.bin, "capture-pane", "-t", name, "-p")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("capturing session %s: %w", name, err)
	}
	return out.String(), nil
}

// Kill best-effort terminates a session. Callers treat failure as a
// warning, not a propagated error.
func (a *Adapter) Kill(ctx context.Context, session string) error {
	name := SanitizeSessionName(session)
	cmd := exec.CommandContext(ctx, a.bin, "kill-session", "-t", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("killing session %s: %w: %s", name, err, out)
	}
	return nil
}

// List returns currently known multiplexer session names.
func (a *Adapter) List(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, a.bin, "list-sessions", "-F", "#{session_name}")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		// tmux exits non-zero with "no server running" when there are no
		// sessions at all; that's an empty list, not an error.
		if strings.Contains(err.Error(), "exit status 1") {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var sessions []string
	for _, l := range lines {
		if l != "" {
			sessions = append(sessions, l)
		}
	}
	return sessions, nil
}
