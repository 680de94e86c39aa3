package chunk

import (
	"context"
	"strings"
	"time"

	"github.com/Aman-CERP/cpe/internal/tokenize"
)

// braceFallbackExtensions lists extensions whose languages are brace-
// delimited but have no registered tree-sitter grammar. These still benefit
// from a structure-aware split instead of a blind line window.
var braceFallbackExtensions = map[string]bool{
	".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true,
	".cs": true, ".rs": true, ".kt": true, ".swift": true, ".scala": true,
	".php": true, ".c++": true,
}

// BraceFallbackChunker is the middle rung of the fallback chain: it scans
// brace depth to find top-level `{ ... }` blocks (functions, classes,
// structs) without needing a grammar, then falls through to TextChunker for
// any remaining depth-0 content between blocks. The router uses it for
// brace-delimited extensions that have no registered tree-sitter grammar.
type BraceFallbackChunker struct {
	text *TextChunker
}

// NewBraceFallbackChunker creates a brace-depth chunker.
func NewBraceFallbackChunker(opts TextChunkerOptions) *BraceFallbackChunker {
	return &BraceFallbackChunker{text: NewTextChunker(opts)}
}

// SupportedExtensions returns the brace-delimited languages this rung targets.
func (c *BraceFallbackChunker) SupportedExtensions() []string {
	exts := make([]string, 0, len(braceFallbackExtensions))
	for ext := range braceFallbackExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// Chunk splits source by scanning brace depth: each top-level block (depth
// transitions 0->1->0) becomes one chunk, running from its opening-brace line
// through its closing brace, extended upward over any run of blank, comment,
// `#[` attribute or `@` annotation lines directly above it (so doc comments
// and decorators travel with the block). A signature line above the
// opening-brace line is not pulled in. Content between blocks is folded into
// the text chunker so nothing is dropped.
func (c *BraceFallbackChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")

	type block struct{ start, end int } // 0-indexed, inclusive
	var blocks []block

	depth := 0
	blockStart := -1
	inString := false
	var stringQuote byte
	prevRune := byte(0)

	for i, line := range lines {
		for j := 0; j < len(line); j++ {
			ch := line[j]
			if inString {
				if ch == stringQuote && prevRune != '\\' {
					inString = false
				}
				prevRune = ch
				continue
			}
			switch ch {
			case '"', '\'':
				inString = true
				stringQuote = ch
			case '{':
				if depth == 0 {
					blockStart = i
				}
				depth++
			case '}':
				if depth > 0 {
					depth--
					if depth == 0 && blockStart >= 0 {
						blocks = append(blocks, block{start: blockStart, end: i})
						blockStart = -1
					}
				}
			}
			prevRune = ch
		}
		inString = false // do not carry unterminated strings across lines
	}

	if len(blocks) == 0 {
		return c.text.Chunk(ctx, file)
	}

	now := time.Now()
	var chunks []*Chunk
	cursor := 0

	flushGap := func(from, to int) error {
		if from >= to {
			return nil
		}
		gap := strings.Join(lines[from:to], "\n")
		if strings.TrimSpace(gap) == "" {
			return nil
		}
		gapChunks, err := c.text.Chunk(ctx, &FileInput{Path: file.Path, Content: []byte(gap), Language: file.Language})
		if err != nil {
			return err
		}
		for _, gc := range gapChunks {
			gc.StartLine += from
			gc.EndLine += from
			gc.Strategy = "brace_fallback"
			chunks = append(chunks, gc)
		}
		return nil
	}

	for _, b := range blocks {
		start := b.start
		// Walk back over blank/comment/attribute lines to capture a preceding
		// doc comment or decorator.
		for start > cursor && isPreambleLine(lines[start-1]) {
			start--
		}
		if err := flushGap(cursor, start); err != nil {
			return nil, err
		}

		blockContent := strings.Join(lines[start:b.end+1], "\n")
		if tokenize.Count(blockContent) > 0 {
			chunks = append(chunks, &Chunk{
				ID:          generateChunkID(file.Path, blockContent),
				FilePath:    file.Path,
				Content:     blockContent,
				RawContent:  blockContent,
				ContentHash: NormalizedContentHash(blockContent),
				ContentType: ContentTypeCode,
				Language:    file.Language,
				Strategy:    "brace_fallback",
				StartLine:   start + 1,
				EndLine:     b.end + 1,
				Metadata:    make(map[string]string),
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		cursor = b.end + 1
	}
	if err := flushGap(cursor, len(lines)); err != nil {
		return nil, err
	}

	return chunks, nil
}

func isPreambleLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	return strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "#[") ||
		strings.HasPrefix(trimmed, "@")
}
