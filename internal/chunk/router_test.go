package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterStrategyByExtension(t *testing.T) {
	r := NewRouter(RouterOptions{})
	defer r.Close()

	assert.Equal(t, "treesitter_generic", r.Strategy("main.go"))
	assert.Equal(t, "python_ast", r.Strategy("pkg/mod.py"))
	assert.Equal(t, "java", r.Strategy("src/Main.java"))
	assert.Equal(t, "markdown", r.Strategy("README.md"))
	assert.Equal(t, "brace_fallback", r.Strategy("kernel.c"))
	assert.Equal(t, "text", r.Strategy("notes.txt"))
}

func TestRouteGoFileUsesTreesitterGeneric(t *testing.T) {
	r := NewRouter(RouterOptions{})
	defer r.Close()

	src := "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"
	chunks, err := r.Route(context.Background(), &FileInput{Path: "main.go", Content: []byte(src), Language: "go"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, "treesitter_generic", c.Strategy)
		assert.NotEmpty(t, c.ContentHash)
	}
}

func TestRouteUnsupportedBraceLanguageFallsBackToBraceScan(t *testing.T) {
	r := NewRouter(RouterOptions{})
	defer r.Close()

	src := "#include <stdio.h>\n\nint main(void) {\n\tprintf(\"hi\");\n\treturn 0;\n}\n"
	chunks, err := r.Route(context.Background(), &FileInput{Path: "main.c", Content: []byte(src)})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "brace_fallback", chunks[0].Strategy)
}

func TestRouteUnknownExtensionFallsBackToText(t *testing.T) {
	r := NewRouter(RouterOptions{})
	defer r.Close()

	src := strings.Repeat("line of plain notes\n", 5)
	chunks, err := r.Route(context.Background(), &FileInput{Path: "notes.txt", Content: []byte(src)})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "text", chunks[0].Strategy)
}

func TestContentHashStableAcrossLineEndingsAndTrailingWhitespace(t *testing.T) {
	a := "line one  \nline two\t\n"
	b := "line one\r\nline two\r\n"
	assert.Equal(t, NormalizedContentHash(a), NormalizedContentHash(b))
}

func TestContentHashChangesWithMeaningfulEdit(t *testing.T) {
	assert.NotEqual(t, NormalizedContentHash("a"), NormalizedContentHash("b"))
}
