// Package knowledge implements the indexer, vector index, and hybrid
// retriever that together answer project questions from markdown,
// code, context entries, and tasks.
package knowledge

// Chunk is one fixed-window slice of a source's content.
type Chunk struct {
	Text  string
	Index int
	Total int
}

// ChunkerConfig parameterizes the fixed-window chunker: window W in
// characters, overlap O, with W>0 and 0<=O<W.
type ChunkerConfig struct {
	Window  int
	Overlap int
}

// ChunkText splits content into fixed-window overlapping chunks by
// character count, in order, with the last chunk possibly shorter. No
// sentence or token boundary awareness is attempted.
func ChunkText(content string, cfg ChunkerConfig) []Chunk {
	if len(content) <= cfg.Window {
		return []Chunk{{Text: content, Index: 0, Total: 1}}
	}

	step := cfg.Window - cfg.Overlap
	var chunks []Chunk
	for start := 0; start < len(content); start += step {
		end := start + cfg.Window
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, Chunk{Text: content[start:end], Index: len(chunks)})
		if end == len(content) {
			break
		}
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}
