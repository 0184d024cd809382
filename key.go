package zenq

import (
	"strings"

	"zenq/internal/utils"
)

// Key identifies a cached resource. It is built from an ordered sequence of
// primitive parts and serialized to a canonical string used for cache
// indexing, storage keys and prefix invalidation. Equal sequences always
// normalize to equal strings, so K("user", 1) == K("user", int64(1)).
type Key struct {
	s string
}

// K builds a Key from primitive parts (string, bool, integer or float).
func K(parts ...interface{}) Key {
	if len(parts) == 0 {
		return Key{}
	}
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = utils.NormalizeValue(p)
	}
	return Key{s: strings.Join(normalized, ":")}
}

// String returns the canonical serialized form of the key.
func (k Key) String() string { return k.s }

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool { return k.s == "" }

// HasPrefix reports whether the key's serialized form starts with prefix.
// Used for hierarchical bulk invalidation, e.g. prefix "user" matches
// "user:1" and "user:2".
func (k Key) HasPrefix(prefix string) bool {
	return strings.HasPrefix(k.s, prefix)
}
