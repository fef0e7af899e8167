package cache

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// NormalizedKeyLength is the length of every normalized cache key.
const NormalizedKeyLength = 32

var digestPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Normalize canonicalizes an arbitrary cache key into a 32 character
// lowercase hex identifier.
//
// A key that already looks like a digest (32 hex characters, any case) is
// lower-cased and passed through, so callers that pre-hash their keys keep
// working. Anything else is hashed with MD5. The digest is a cache address,
// not a security boundary.
//
// Normalize is idempotent: Normalize(Normalize(k)) == Normalize(k).
func Normalize(raw string) string {
	if digestPattern.MatchString(raw) {
		return strings.ToLower(raw)
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsNormalized reports whether key is already in normalized form.
func IsNormalized(key string) bool {
	return len(key) == NormalizedKeyLength && digestPattern.MatchString(key) && strings.ToLower(key) == key
}

// Key is a namespaced raw cache key used by domain callers.
type Key struct {
	// Namespace groups related entries (e.g. "user_info", "owned")
	Namespace string

	// ID identifies the entity inside the namespace (e.g. a Steam ID)
	ID string
}

// String renders the raw key.
// Format: namespace_id
//
// Example:
//
//	user_info_76561198000000001
func (k Key) String() string {
	if k.Namespace == "" {
		return k.ID
	}
	return k.Namespace + "_" + k.ID
}

// Normalized returns the normalized form of the key.
func (k Key) Normalized() string {
	return Normalize(k.String())
}
