// Package provider adapts external embedding/chat providers behind a
// single small interface. Each embedding provider declares a native
// dimension; the adapter normalizes to a fixed target width by
// zero-padding or truncating.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderUnavailable is returned after the whole fallback chain is
// exhausted.
var ErrProviderUnavailable = errors.New("provider_unavailable")

// Message is one turn of a chat exchange.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Provider covers availability, warm-up, embedding, and chat. New
// variants (cloud, local, openai-compatible) are added by implementing
// this interface and registering a factory.
type Provider interface {
	Name() string
	NativeDimension() int
	Available(ctx context.Context) bool
	WarmUp(ctx context.Context) error
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Chat(ctx context.Context, messages []Message, model string) (string, error)
}

// Factory constructs a Provider from named configuration; registered
// by variant name in the package-level registry below.
type Factory func(variant string) (Provider, error)

var factories = map[string]Factory{}

// RegisterFactory associates a variant name with a constructor. Used
// at package init by http_provider.go.
func RegisterFactory(variant string, f Factory) {
	factories[variant] = f
}

// New constructs a provider for the given variant.
func New(variant string) (Provider, error) {
	f, ok := factories[variant]
	if !ok {
		return nil, fmt.Errorf("provider: unknown variant %q", variant)
	}
	return f(variant)
}

// Adapter wraps a fallback chain of providers plus dimension
// normalization to a fixed target width.
type Adapter struct {
	chain     []Provider
	targetDim int
}

// NewAdapter builds an Adapter over an ordered fallback chain. The
// first available() provider wins; on a transient call-time error the
// next is tried, through to the end of the chain.
func NewAdapter(chain []Provider, targetDim int) *Adapter {
	if targetDim <= 0 {
		targetDim = 1536
	}
	return &Adapter{chain: chain, targetDim: targetDim}
}

func (a *Adapter) TargetDimension() int { return a.targetDim }

// pick returns providers in fallback order starting from the first
// one that reports itself available.
func (a *Adapter) pick(ctx context.Context) []Provider {
	var ordered []Provider
	for _, p := range a.chain {
		if p.Available(ctx) {
			ordered = append(ordered, p)
		}
	}
	if len(ordered) == 0 {
		// Nothing reports itself available; still try them all in
		// configured order in case Available() is overly conservative.
		return a.chain
	}
	return ordered
}

// Embed runs texts through the first available provider, falling back
// on transient failure, and normalizes every vector to TargetDimension.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for _, p := range a.pick(ctx) {
		vectors, err := p.Embed(ctx, texts)
		if err != nil {
			lastErr = err
			continue
		}
		normalized := make([][]float32, len(vectors))
		for i, v := range vectors {
			normalized[i] = Normalize(v, a.targetDim)
		}
		return normalized, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no embedding provider configured")
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// Chat runs messages through the first available provider, falling
// back on transient failure.
func (a *Adapter) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	var lastErr error
	for _, p := range a.pick(ctx) {
		text, err := p.Chat(ctx, messages, model)
		if err != nil {
			lastErr = err
			continue
		}
		return text, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no chat provider configured")
	}
	return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// Normalize zero-pads a short vector or truncates a long one so every
// embedding row has exactly `target` components.
func Normalize(v []float32, target int) []float32 {
	if len(v) == target {
		return v
	}
	out := make([]float32, target)
	n := len(v)
	if n > target {
		n = target
	}
	copy(out, v[:n])
	return out
}
