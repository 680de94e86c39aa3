package chunk

import (
	"context"
	"strings"
	"time"

	"github.com/Aman-CERP/cpe/internal/tokenize"
)

// TextChunkerOptions configures the plain-text line-window chunker.
type TextChunkerOptions struct {
	ChunkTokens   int // target tokens per chunk
	OverlapTokens int // overlap between consecutive chunks
}

// TextChunker is the bottom rung of the fallback chain: a token-budget
// line-window splitter for content with no known structure (plain text,
// unsupported languages, or AST/brace-scan failures). It never errors and
// never skips a file.
type TextChunker struct {
	opts TextChunkerOptions
}

// NewTextChunker creates a text chunker, defaulting to the shared chunk size knobs.
func NewTextChunker(opts TextChunkerOptions) *TextChunker {
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &TextChunker{opts: opts}
}

// SupportedExtensions returns nil: TextChunker is the catch-all, registered
// directly by the router rather than advertised extensions.
func (c *TextChunker) SupportedExtensions() []string { return nil }

// Chunk splits file content into token-budget line windows. Lines, not
// tokens, are the unit of movement so a chunk never splits a line in half;
// window size is driven by the shared tokenizer rather than a fixed line
// count.
func (c *TextChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	now := time.Now()
	var chunks []*Chunk

	i := 0
	for i < len(lines) {
		end := i
		tokens := 0
		for end < len(lines) {
			lineTokens := tokenize.Count(lines[end])
			if tokens > 0 && tokens+lineTokens > c.opts.ChunkTokens {
				break
			}
			tokens += lineTokens
			end++
		}
		if end == i {
			end = i + 1 // a single oversized line still makes progress
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			ID:          generateChunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			ContentHash: NormalizedContentHash(chunkContent),
			ContentType: ContentTypeText,
			Language:    file.Language,
			Strategy:    "text",
			StartLine:   i + 1,
			EndLine:     end,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		if end >= len(lines) {
			break
		}

		// Step back by an overlap window, measured in lines that roughly
		// cover OverlapTokens, but always make forward progress.
		overlapLines := 0
		overlapTokens := 0
		for j := end - 1; j >= i && overlapTokens < c.opts.OverlapTokens; j-- {
			overlapTokens += tokenize.Count(lines[j])
			overlapLines++
		}
		next := end - overlapLines
		if next <= i {
			next = end
		}
		i = next
	}

	return chunks, nil
}
