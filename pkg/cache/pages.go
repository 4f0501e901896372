package cache

import (
	"context"
	"fmt"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
)

// PageKey returns the cache key of the page answering q on endpoint.
func PageKey(endpoint string, q fairing.Query) CacheKey {
	return CacheKey{Endpoint: endpoint, QueryParams: q.Values()}
}

// GetPage returns the cached page answering q. A missing entry yields
// ErrCacheMiss; an entry that no longer decodes is dropped and reported as
// ErrInvalidEntry.
func (m *Manager) GetPage(ctx context.Context, endpoint string, q fairing.Query) (*fairing.Page, error) {
	key := PageKey(endpoint, q)
	entry, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	page, err := fairing.DecodePage(entry.Data)
	if err != nil {
		_ = m.Delete(ctx, key)
		CacheErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, key, err)
	}
	return page, nil
}

// PutPage caches body, the raw response that decoded to page, when the page
// is sealed. It reports whether the page was stored.
func (m *Manager) PutPage(ctx context.Context, endpoint string, q fairing.Query, page *fairing.Page, body []byte) (bool, error) {
	if !q.Sealed(page) {
		return false, nil
	}
	entry := NewEntry(body, m.ttl)
	entry.Query = q.Values().Encode()
	if err := m.Set(ctx, PageKey(endpoint, q), entry); err != nil {
		return false, err
	}
	return true, nil
}
