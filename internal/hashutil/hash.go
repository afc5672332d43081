// Package hashutil computes deterministic content and context hashes.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Content returns the lowercase hex SHA-256 of the UTF-8 bytes of content.
// Empty content yields no hash.
func Content(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ContentWithContext hashes content followed by a stable serialization of the
// context map. Two items with identical text but different surrounding context
// hash differently.
func ContentWithContext(content string, context map[string]string) string {
	if content == "" {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(content))
	if len(context) > 0 {
		h.Write(stableContext(context))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// stableContext serializes a map with sorted keys so the hash does not depend
// on map iteration order.
func stableContext(context map[string]string) []byte {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, context[k])
	}
	data, _ := json.Marshal(ordered)
	return data
}
