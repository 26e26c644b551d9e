package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePadsShortVectors(t *testing.T) {
	out := Normalize([]float32{1, 2, 3}, 5)
	require.Equal(t, []float32{1, 2, 3, 0, 0}, out)
}

func TestNormalizeTruncatesLongVectors(t *testing.T) {
	out := Normalize([]float32{1, 2, 3, 4, 5}, 3)
	require.Equal(t, []float32{1, 2, 3}, out)
}

func TestNormalizeExactWidthUnchanged(t *testing.T) {
	out := Normalize([]float32{1, 2, 3}, 3)
	require.Equal(t, []float32{1, 2, 3}, out)
}

type fakeProvider struct {
	name      string
	available bool
	embedErr  error
	chatErr   error
	dim       int
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) NativeDimension() int { return f.dim }
func (f *fakeProvider) Available(ctx context.Context) bool { return f.available }
func (f *fakeProvider) WarmUp(ctx context.Context) error   { return nil }
func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeProvider) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return "answer from " + f.name, nil
}

func TestAdapterFallsBackOnTransientError(t *testing.T) {
	p1 := &fakeProvider{name: "p1", available: true, embedErr: errors.New("boom"), dim: 4}
	p2 := &fakeProvider{name: "p2", available: true, dim: 4}
	a := NewAdapter([]Provider{p1, p2}, 8)

	vectors, err := a.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vectors[0], 8)
}

func TestAdapterExhaustsChain(t *testing.T) {
	p1 := &fakeProvider{name: "p1", available: true, chatErr: errors.New("down")}
	p2 := &fakeProvider{name: "p2", available: true, chatErr: errors.New("also down")}
	a := NewAdapter([]Provider{p1, p2}, 8)

	_, err := a.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestAdapterPrefersAvailableProvider(t *testing.T) {
	p1 := &fakeProvider{name: "p1", available: false}
	p2 := &fakeProvider{name: "p2", available: true}
	a := NewAdapter([]Provider{p1, p2}, 8)

	text, err := a.Chat(context.Background(), nil, "")
	require.NoError(t, err)
	require.Equal(t, "answer from p2", text)
}
