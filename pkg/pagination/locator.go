package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Anchor is the page a cold start begins from.
type Anchor struct {
	// Page is the oldest page holding records at or after Bound.
	Page *fairing.Page

	// Floor is the newest id known to precede Bound, or zero. Records with
	// an id at or below it are never emitted.
	Floor fairing.RecordID

	// Bound is the inclusive lower time bound the anchor was located for.
	Bound time.Time

	// Probes is the number of requests the search took.
	Probes int
}

// Locator finds the anchor page for a time bound.
type Locator struct {
	fetcher PageFetcher
	config  Config
	now     func() time.Time
	logger  zerolog.Logger
}

// NewLocator creates a locator.
func NewLocator(fetcher PageFetcher, config Config) *Locator {
	return &Locator{
		fetcher: fetcher,
		config:  config.withDefaults(),
		now:     time.Now,
		logger:  log.With().Str("component", "anchor-locator").Logger(),
	}
}

// SetClock replaces the source of "now", the upper end of the search.
func (l *Locator) SetClock(now func() time.Time) {
	l.now = now
}

// Locate returns the anchor for bound, or ErrNoAnchor when the collection
// holds nothing at or after it.
//
// When records older than bound exist, the anchor is the page immediately
// newer than the newest of them. Otherwise the until filter is bisected over
// [bound, now] for the oldest non-empty page, which is then re-validated by
// stepping to older pages while it is full.
func (l *Locator) Locate(ctx context.Context, bound time.Time) (*Anchor, error) {
	bound = bound.UTC()
	now := l.now().UTC()
	s := &search{l: l, bound: bound}

	defer func() {
		AnchorProbes.Observe(float64(s.probes))
	}()

	if bound.After(now) {
		l.logger.Info().Time("bound", bound).Msg("Time bound is in the future, nothing to extract")
		return nil, ErrNoAnchor
	}

	// everything at or before bound - 1µs precedes the bound
	prior, err := s.probe(ctx, fairing.Query{Until: bound.Add(-fairing.Resolution)})
	if err != nil {
		return nil, err
	}
	if !prior.Empty() {
		return s.afterPrior(ctx, prior)
	}

	head, err := s.probe(ctx, fairing.Query{Until: now})
	if err != nil {
		return nil, err
	}
	if head.Empty() {
		l.logger.Info().Time("bound", bound).Int("probes", s.probes).Msg("Collection is empty")
		return nil, ErrNoAnchor
	}

	candidate, err := s.bisect(ctx, now, head)
	if err != nil {
		return nil, err
	}
	candidate, err = s.revalidate(ctx, candidate)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Time("bound", bound).
		Int64("oldest_id", int64(candidate.Oldest().ID)).
		Int64("newest_id", int64(candidate.Newest().ID)).
		Int("probes", s.probes).
		Msg("Anchor page located")

	return &Anchor{Page: candidate, Bound: bound, Probes: s.probes}, nil
}

// search holds the state of one Locate call.
type search struct {
	l      *Locator
	bound  time.Time
	probes int
}

func (s *search) probe(ctx context.Context, q fairing.Query) (*fairing.Page, error) {
	q.Limit = s.l.config.PageSize
	s.probes++
	page, err := fetch(ctx, s.l.fetcher, s.l.config.Timeout, "locate", q)
	if err != nil {
		return nil, fmt.Errorf("anchor probe %d: %w", s.probes, err)
	}
	if err := page.CheckOrder(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageOrder, err)
	}

	ev := s.l.logger.Debug().
		Int("probe", s.probes).
		Str("query", q.Values().Encode()).
		Int("records", len(page.Records))
	if !page.Empty() {
		ev = ev.Int64("oldest_id", int64(page.Oldest().ID)).Time("oldest_at", page.Oldest().InsertedAt)
	}
	ev.Msg("Anchor probe")

	return page, nil
}

// afterPrior anchors on the page right after the newest record older than
// the bound.
func (s *search) afterPrior(ctx context.Context, prior *fairing.Page) (*Anchor, error) {
	floor := prior.Newest().ID
	s.l.logger.Warn().
		Time("bound", s.bound).
		Int64("newest_prior_id", int64(floor)).
		Msg("Records exist before the start date; dropping start_date would extract them too")

	page, err := s.probe(ctx, fairing.Query{Before: floor.String()})
	if err != nil {
		return nil, err
	}
	if page.Empty() {
		s.l.logger.Info().Time("bound", s.bound).Int("probes", s.probes).Msg("No records at or after the time bound")
		return nil, ErrNoAnchor
	}

	s.l.logger.Info().
		Time("bound", s.bound).
		Int64("floor_id", int64(floor)).
		Int64("newest_id", int64(page.Newest().ID)).
		Int("probes", s.probes).
		Msg("Anchor page located")

	return &Anchor{Page: page, Floor: floor, Bound: s.bound, Probes: s.probes}, nil
}

// bisect narrows [bound, now] to the earliest until that still returns
// records at or after the bound. An empty page means "no data in this half".
func (s *search) bisect(ctx context.Context, now time.Time, candidate *fairing.Page) (*fairing.Page, error) {
	lo, hi := s.bound, now
	for steps := 0; steps < s.l.config.MaxSteps && hi.Sub(lo) > s.l.config.Resolution; steps++ {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(fairing.Resolution)
		if !mid.After(lo) {
			break
		}
		page, err := s.probe(ctx, fairing.Query{Until: mid})
		if err != nil {
			return nil, err
		}
		if !page.Empty() && !page.Oldest().InsertedAt.Before(s.bound) {
			candidate, hi = page, mid
		} else {
			lo = mid
		}
	}
	return candidate, nil
}

// revalidate steps to older pages while the candidate is full, so that no
// qualifying record hides below it.
func (s *search) revalidate(ctx context.Context, candidate *fairing.Page) (*fairing.Page, error) {
	for candidate.Full(s.l.config.PageSize) && candidate.OlderToken != "" {
		older, err := s.probe(ctx, fairing.Query{After: candidate.OlderToken})
		if err != nil {
			return nil, err
		}
		if older.Empty() {
			break
		}
		candidate = older
		if older.Oldest().InsertedAt.Before(s.bound) {
			break
		}
	}
	return candidate, nil
}
