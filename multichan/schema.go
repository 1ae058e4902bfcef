package multichan

import (
	"strings"

	"github.com/OneOfOne/xxhash"
)

// fingerprint hashes the normalized, concatenated channel-type names into a
// single value every rank can compare without agreeing on anything beyond
// the names themselves - "recommend a scheme like concatenated, normalised
// type names hashed with a stable algorithm" is implemented literally here.
func fingerprint(typeNames []string) uint64 {
	normalized := make([]string, len(typeNames))
	for i, n := range typeNames {
		normalized[i] = strings.ToLower(strings.TrimSpace(n))
	}
	joined := strings.Join(normalized, "|")
	return xxhash.Checksum64([]byte(joined))
}
