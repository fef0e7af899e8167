package steam

import (
	"github.com/Sternrassler/steam-bridge/pkg/cache"
)

// Cache key namespaces, one per cached entity.
const (
	NamespaceSummary = "user_info"
	NamespaceLevel   = "user_level"
	NamespaceFriends = "friends"
	NamespaceOwned   = "owned"
	NamespaceRecent  = "recent"
	NamespaceStatus  = "online_status"
)

var playerNamespaces = []string{
	NamespaceSummary,
	NamespaceLevel,
	NamespaceFriends,
	NamespaceOwned,
	NamespaceRecent,
	NamespaceStatus,
}

// CacheKey returns the raw cache key for a namespace and Steam ID.
func CacheKey(namespace, steamID string) string {
	return cache.Key{Namespace: namespace, ID: steamID}.String()
}

// PlayerCacheKeys returns every raw cache key the client may hold for steamID.
func PlayerCacheKeys(steamID string) []string {
	keys := make([]string, 0, len(playerNamespaces))
	for _, ns := range playerNamespaces {
		keys = append(keys, CacheKey(ns, steamID))
	}
	return keys
}
