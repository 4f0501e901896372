package pagination

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
)

var (
	// ErrNoAnchor means no record exists at or after the time bound.
	// It ends a cold start without emissions and is not a failure.
	ErrNoAnchor = errors.New("no records at or after the time bound")

	// ErrPageOrder means a page was not strictly descending by id.
	ErrPageOrder = errors.New("page not in descending id order")
)

// PageFetcher fetches one page per call. An empty page is a valid result.
type PageFetcher interface {
	FetchPage(ctx context.Context, q fairing.Query) (*fairing.Page, error)
}

// Config holds locator and paginator configuration.
type Config struct {
	// PageSize is sent as the limit of every request.
	PageSize int

	// Timeout per page fetch. Zero leaves deadlines to the fetcher.
	Timeout time.Duration

	// Resolution ends the bisection once the search interval is this narrow.
	Resolution time.Duration

	// MaxSteps caps the number of bisection probes.
	MaxSteps int
}

// DefaultConfig returns the defaults used against the production API.
func DefaultConfig() Config {
	return Config{
		PageSize:   100,
		Timeout:    30 * time.Second,
		Resolution: time.Second,
		MaxSteps:   64,
	}
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	switch {
	case c.Resolution <= 0:
		c.Resolution = time.Second
	case c.Resolution < fairing.Resolution:
		c.Resolution = fairing.Resolution
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 64
	}
	return c
}

// fetch applies the per-page timeout and counts the request.
func fetch(ctx context.Context, fetcher PageFetcher, timeout time.Duration, phase string, q fairing.Query) (*fairing.Page, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	PagesFetched.WithLabelValues(phase).Inc()
	page, err := fetcher.FetchPage(ctx, q)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &fairing.Page{}
	}
	return page, nil
}
