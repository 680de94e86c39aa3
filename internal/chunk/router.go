package chunk

import (
	"context"
	"path/filepath"
	"strings"
)

// markdownExtensions routes straight to MarkdownChunker.
var markdownExtensions = map[string]bool{".md": true, ".markdown": true, ".mdx": true}

// astStrategyByLanguage names the chunking strategy recorded on each chunk's
// Strategy/Metadata["strategy"] field for AST-cut chunks, distinguishing the
// two dedicated grammars called out from the generic tree-sitter path.
var astStrategyByLanguage = map[string]string{
	"python": "python_ast",
	"java":   "java",
}

// Router picks a chunking strategy per file by extension so a file is never
// skipped. Files with a registered tree-sitter grammar go to the AST chunker
// (which cuts line windows itself when parsing fails); if that yields no
// chunks they go to the token-budget line window. Brace-delimited extensions
// without a registered grammar go to the brace-depth scan, which degrades to
// the line window if no braces are found. A file with a registered grammar
// is not retried with the brace scan.
type Router struct {
	code      *CodeChunker
	markdown  *MarkdownChunker
	brace     *BraceFallbackChunker
	text      *TextChunker
	extToLang map[string]string
}

// RouterOptions mirrors the chunk-size knobs threaded through every rung.
type RouterOptions struct {
	ChunkTokens   int
	OverlapTokens int
}

// NewRouter builds a router wired to all four chunking strategies.
func NewRouter(opts RouterOptions) *Router {
	codeOpts := CodeChunkerOptions{MaxChunkTokens: opts.ChunkTokens, OverlapTokens: opts.OverlapTokens}
	mdOpts := MarkdownChunkerOptions{MaxChunkTokens: opts.ChunkTokens, OverlapTokens: opts.OverlapTokens}
	textOpts := TextChunkerOptions{ChunkTokens: opts.ChunkTokens, OverlapTokens: opts.OverlapTokens}

	registry := DefaultRegistry()
	extToLang := make(map[string]string)
	for _, ext := range registry.SupportedExtensions() {
		if cfg, ok := registry.GetByExtension(ext); ok {
			extToLang[ext] = cfg.Name
		}
	}

	return &Router{
		code:      NewCodeChunkerWithOptions(codeOpts),
		markdown:  NewMarkdownChunkerWithOptions(mdOpts),
		brace:     NewBraceFallbackChunker(textOpts),
		text:      NewTextChunker(textOpts),
		extToLang: extToLang,
	}
}

// Close releases resources held by AST-backed rungs.
func (r *Router) Close() {
	if r.code != nil {
		r.code.Close()
	}
}

// Strategy reports which strategy Route would pick for a path, without
// running it. Used by callers that want to log or filter before chunking.
func (r *Router) Strategy(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if markdownExtensions[ext] {
		return "markdown"
	}
	if lang, ok := r.extToLang[ext]; ok {
		if s, ok := astStrategyByLanguage[lang]; ok {
			return s
		}
		return "treesitter_generic"
	}
	if braceFallbackExtensions[ext] {
		return "brace_fallback"
	}
	return "text"
}

// Route chunks a file, walking the fallback chain until a rung produces at
// least one chunk (or the file is genuinely empty). Every returned chunk has
// ContentHash and Strategy populated.
func (r *Router) Route(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	ext := strings.ToLower(filepath.Ext(file.Path))

	var (
		chunks []*Chunk
		err    error
	)

	switch {
	case markdownExtensions[ext]:
		chunks, err = r.markdown.Chunk(ctx, file)
		r.tagStrategy(chunks, "markdown")

	case r.extToLang[ext] != "":
		lang := r.extToLang[ext]
		if file.Language == "" {
			file = &FileInput{Path: file.Path, Content: file.Content, Language: lang}
		}
		strategy := astStrategyByLanguage[lang]
		if strategy == "" {
			strategy = "treesitter_generic"
		}
		chunks, err = r.code.Chunk(ctx, file)
		if err == nil && len(chunks) > 0 {
			r.tagStrategy(chunks, strategy)
		} else if braceFallbackExtensions[ext] {
			chunks, err = r.brace.Chunk(ctx, file)
		} else {
			chunks, err = r.text.Chunk(ctx, file)
			r.tagStrategy(chunks, "text")
		}

	case braceFallbackExtensions[ext]:
		chunks, err = r.brace.Chunk(ctx, file)

	default:
		chunks, err = r.text.Chunk(ctx, file)
		r.tagStrategy(chunks, "text")
	}

	if err != nil {
		return nil, err
	}

	for _, c := range chunks {
		if c.ContentHash == "" {
			c.ContentHash = NormalizedContentHash(c.RawContent)
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		if c.Strategy != "" {
			c.Metadata["strategy"] = c.Strategy
		}
	}

	return chunks, nil
}

func (r *Router) tagStrategy(chunks []*Chunk, strategy string) {
	for _, c := range chunks {
		if c.Strategy == "" {
			c.Strategy = strategy
		}
	}
}
