package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkTextFitsInOneChunk(t *testing.T) {
	chunks := ChunkText("short content", ChunkerConfig{Window: 500, Overlap: 50})
	require.Len(t, chunks, 1)
	require.Equal(t, 1, chunks[0].Total)
}

func TestChunkTextWindowOverlap(t *testing.T) {
	content := strings.Repeat("a", 1000)
	chunks := ChunkText(content, ChunkerConfig{Window: 500, Overlap: 50})
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		require.Equal(t, 3, c.Total)
	}
	require.Less(t, len(chunks[len(chunks)-1].Text), 500)
}

func TestChunkTextOrderedIndices(t *testing.T) {
	content := strings.Repeat("b", 1200)
	chunks := ChunkText(content, ChunkerConfig{Window: 400, Overlap: 100})
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
	}
}
