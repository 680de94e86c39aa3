// Package tokenize implements the single shared tokenizer used for chunk
// cutting, BM25 indexing, and context-compiler budget accounting, so the
// same token counts apply throughout the pipeline. It is a whitespace plus
// heuristic approximate tokenizer, fast rather than exact, with a
// code-aware word splitter that handles camelCase and snake_case.
package tokenize

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// CharsPerToken is the rough approximation used for budget accounting when a
// precise token count isn't needed.
const CharsPerToken = 4

// Words splits text into code-aware word tokens: camelCase/snake_case aware,
// lowercased, tokens under 2 runes dropped. Used for BM25 indexing.
func Words(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// Count estimates the number of tokens in text using the shared approximation:
// the number of runs of letters, digits and underscores (identifiers are not
// split further, unlike Words), falling back to a CharsPerToken estimate when
// there is no such run, and at least 1 for non-empty input. This is the single function used
// by the chunker (to cut at chunk_tokens/hard_cap_tokens) and the context
// compiler (to pack within max_tokens), satisfying the tokenizer-identity
// invariant.
func Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(wordRegex.FindAllString(text, -1))
	if n == 0 {
		// Fall back to char-based estimate for punctuation-only content.
		n = (len(text) + CharsPerToken - 1) / CharsPerToken
	}
	if n == 0 {
		n = 1
	}
	return n
}

// TruncateToTokens returns the first max whitespace-delimited words of text
// joined by single spaces, or text unchanged when it has no more than max
// words. It operates on whole words to avoid truncating mid-identifier. Words
// are counted with strings.Fields, not Count, so the result's Count can exceed
// max when a word holds several identifier runs (for example "a.b").
func TruncateToTokens(text string, max int) string {
	if max <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}

func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var out []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				out = append(out, splitCamelCase(part)...)
			}
		}
		return out
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
