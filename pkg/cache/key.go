package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "fairing:page"

// CacheKey represents a unique identifier for a cached page.
type CacheKey struct {
	// Endpoint is the collection path (e.g., "/responses")
	Endpoint string

	// QueryParams are the query parameters (e.g., {"after": "1042", "limit": "100"})
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: fairing:page:endpoint:query1=val1:query2=val2
//
// Example:
//
//	fairing:page:responses:after=1042:limit=100
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
