package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Paginator yields records in ascending id order, from a starting point up
// to the newest record available. It is used like sql.Rows:
//
//	for p.Next(ctx) {
//		r := p.Record()
//	}
//	err := p.Err()
//
// A Paginator is not safe for concurrent use.
type Paginator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger

	// last is the highest id yielded so far, or the starting floor.
	last fairing.RecordID
	// bound drops older records on a cold start; zero when resuming.
	bound time.Time

	first  *fairing.Page
	next   string
	buf    []fairing.Record
	record fairing.Record

	pages   int
	skipped int
	done    bool
	err     error
}

// FromAnchor starts at a located anchor page.
func FromAnchor(fetcher PageFetcher, config Config, anchor *Anchor) *Paginator {
	p := newPaginator(fetcher, config)
	p.first = anchor.Page
	p.last = anchor.Floor
	p.bound = anchor.Bound
	return p
}

// FromCursor resumes after the record with id cursor.
func FromCursor(fetcher PageFetcher, config Config, cursor fairing.RecordID) *Paginator {
	p := newPaginator(fetcher, config)
	p.last = cursor
	p.next = cursor.String()
	return p
}

func newPaginator(fetcher PageFetcher, config Config) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		config:  config.withDefaults(),
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// Next advances to the next record. It returns false when the feed is
// exhausted or an error occurred; check Err to tell them apart.
func (p *Paginator) Next(ctx context.Context) bool {
	for p.err == nil && !p.done {
		if len(p.buf) > 0 {
			r := p.buf[0]
			p.buf = p.buf[1:]
			if !p.accept(r) {
				continue
			}
			p.record = r
			p.last = r.ID
			return true
		}
		p.load(ctx)
	}
	return false
}

// accept filters records that were already emitted or precede the bound.
func (p *Paginator) accept(r fairing.Record) bool {
	switch {
	case r.ID <= p.last:
		RecordsSkipped.WithLabelValues("seen").Inc()
	case !p.bound.IsZero() && r.InsertedAt.Before(p.bound):
		RecordsSkipped.WithLabelValues("before_bound").Inc()
	default:
		return true
	}
	p.skipped++
	return false
}

// load fills the buffer with the next page, or marks the end of the feed.
func (p *Paginator) load(ctx context.Context) {
	page := p.first
	p.first = nil
	if page == nil {
		if p.next == "" {
			p.finish("no newer page token")
			return
		}
		var err error
		page, err = fetch(ctx, p.fetcher, p.config.Timeout, "paginate", fairing.Query{
			Before: p.next,
			Limit:  p.config.PageSize,
		})
		if err != nil {
			p.err = fmt.Errorf("fetch page before %s: %w", p.next, err)
			return
		}
	}

	if err := page.CheckOrder(); err != nil {
		p.err = fmt.Errorf("%w: %v", ErrPageOrder, err)
		return
	}
	p.pages++

	// empty pages carry no tokens, so there is nowhere left to go
	if page.Empty() {
		p.finish("empty page")
		return
	}

	p.logger.Debug().
		Int("page", p.pages).
		Int64("oldest_id", int64(page.Oldest().ID)).
		Int64("newest_id", int64(page.Newest().ID)).
		Int("records", len(page.Records)).
		Msg("Page loaded")

	p.buf = page.Ascending()
	p.next = page.NewerToken
}

func (p *Paginator) finish(reason string) {
	p.done = true
	p.logger.Debug().
		Str("reason", reason).
		Int("pages", p.pages).
		Int("skipped", p.skipped).
		Int64("last_id", int64(p.last)).
		Msg("Pagination finished")
}

// Record returns the current record.
func (p *Paginator) Record() fairing.Record {
	return p.record
}

// Err returns the error that stopped the iteration, if any.
func (p *Paginator) Err() error {
	return p.err
}

// Pages returns the number of pages consumed.
func (p *Paginator) Pages() int {
	return p.pages
}

// Skipped returns the number of records filtered out.
func (p *Paginator) Skipped() int {
	return p.skipped
}
