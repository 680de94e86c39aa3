package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizedContentHash implements the content_hash function the chunkers and
// the router stamp on every chunk: Unicode NFC normalization, then removal of
// a trailing CR on each line (so CRLF becomes LF), then per-line rstrip, then
// SHA-256 hex. Normalizing before hashing means a file whose
// line endings or trailing whitespace change on disk (but not its meaningful
// content) keeps the same content_hash across rebuilds.
func NormalizedContentHash(text string) string {
	normalized := norm.NFC.String(text)
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		lines[i] = strings.TrimRight(line, " \t")
	}
	canonical := strings.Join(lines, "\n")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
