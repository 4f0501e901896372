// Package extract runs one incremental extraction: it decides between a
// cold start and a resume, drives the paginator and advances the checkpoint
// after every emitted record.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/fairing-extract/pkg/checkpoint"
	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/Sternrassler/fairing-extract/pkg/pagination"
)

// Prometheus metrics for extraction runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_extract_runs_total",
		Help: "Total number of extraction runs by terminal phase",
	}, []string{"stream", "phase"})

	recordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_extract_records_emitted_total",
		Help: "Total number of records emitted by stream",
	}, []string{"stream"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fairing_extract_run_duration_seconds",
		Help:    "Extraction run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stream"})
)

// Phase is a state of the run.
type Phase string

// Run phases. Done and Failed are terminal.
const (
	PhaseColdStart  Phase = "cold_start"
	PhaseLocating   Phase = "locating_anchor"
	PhasePaginating Phase = "paginating"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Emitter receives records in ascending id order.
type Emitter interface {
	Emit(ctx context.Context, r fairing.Record) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, r fairing.Record) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, r fairing.Record) error {
	return f(ctx, r)
}

// flusher is implemented by observers holding buffered state.
type flusher interface {
	Flush(ctx context.Context) error
}

// Config holds extractor configuration.
type Config struct {
	Stream fairing.Stream

	// StartDate is the inclusive time bound of a cold start.
	StartDate time.Time

	Pagination pagination.Config
}

// Result summarises a run.
type Result struct {
	Phase   Phase
	Emitted int
	// State is the cursor after the last advance. When an observer fails,
	// it already holds the id of the record that was emitted, which the
	// failing observer may not have persisted.
	State checkpoint.State
	// Anchored is true when the run located an anchor instead of resuming.
	Anchored bool
	Probes   int
	Pages    int
	Skipped  int
	Duration time.Duration
}

// Extractor runs extractions for one stream. Runs are sequential; an
// Extractor must not run concurrently with itself.
type Extractor struct {
	fetcher   pagination.PageFetcher
	emitter   Emitter
	config    Config
	observers []checkpoint.Observer
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an extractor. Observers are notified after every advance in
// the order given; they are flushed when the run ends.
func New(fetcher pagination.PageFetcher, emitter Emitter, config Config, observers ...checkpoint.Observer) *Extractor {
	return &Extractor{
		fetcher:   fetcher,
		emitter:   emitter,
		config:    config,
		observers: observers,
		now:       time.Now,
		logger:    log.With().Str("component", "extractor").Str("stream", config.Stream.Name).Logger(),
	}
}

// SetClock replaces the source of "now" used by the anchor search.
func (e *Extractor) SetClock(now func() time.Time) {
	e.now = now
}

// run carries the mutable state of one Run call.
type run struct {
	phase    Phase
	tracker  *checkpoint.Tracker
	result   Result
	previous fairing.RecordID
}

// Run extracts every record newer than initial, or at or after StartDate
// when initial has no cursor. The returned Result is valid on error too:
// its State is the last checkpoint that was advanced.
//
// Finding no records at or after StartDate ends the run in PhaseDone with
// a nil error.
func (e *Extractor) Run(ctx context.Context, initial checkpoint.State) (Result, error) {
	start := time.Now()
	if initial.Stream == "" {
		initial.Stream = e.config.Stream.Name
	}
	r := &run{
		phase:    PhaseColdStart,
		tracker:  checkpoint.NewTracker(initial, e.observers...),
		previous: initial.LastID,
	}

	err := e.drive(ctx, r)
	if err != nil {
		r.phase = PhaseFailed
	} else {
		r.phase = PhaseDone
	}
	if ferr := e.flush(ctx, err != nil); ferr != nil {
		if err == nil {
			r.phase = PhaseFailed
			err = ferr
		} else {
			e.logger.Warn().Err(ferr).Msg("Checkpoint flush after failure did not complete")
		}
	}

	r.result.Phase = r.phase
	r.result.State = r.tracker.State()
	r.result.Duration = time.Since(start)

	runsTotal.WithLabelValues(e.config.Stream.Name, string(r.phase)).Inc()
	runDuration.WithLabelValues(e.config.Stream.Name).Observe(r.result.Duration.Seconds())

	event := e.logger.Info()
	if err != nil {
		event = e.logger.Error().Err(err)
	}
	event.
		Str("phase", string(r.phase)).
		Int("emitted", r.result.Emitted).
		Int("pages", r.result.Pages).
		Int64("last_id", int64(r.result.State.LastID)).
		Dur("duration", r.result.Duration).
		Msg("Extraction finished")

	return r.result, err
}

// drive walks the state machine until a terminal phase.
func (e *Extractor) drive(ctx context.Context, r *run) error {
	var pager *pagination.Paginator
	for {
		switch r.phase {
		case PhaseColdStart:
			state := r.tracker.State()
			if state.HasCursor() {
				e.logger.Info().Int64("cursor", int64(state.LastID)).Msg("Resuming from checkpoint")
				pager = pagination.FromCursor(e.fetcher, e.config.Pagination, state.LastID)
				r.phase = PhasePaginating
			} else {
				e.logger.Info().Time("start_date", e.config.StartDate).Msg("No checkpoint, locating anchor")
				r.phase = PhaseLocating
			}

		case PhaseLocating:
			locator := pagination.NewLocator(e.fetcher, e.config.Pagination)
			locator.SetClock(e.now)
			anchor, err := locator.Locate(ctx, e.config.StartDate)
			if errors.Is(err, pagination.ErrNoAnchor) {
				e.logger.Info().Time("start_date", e.config.StartDate).Msg("No records at or after start date")
				return nil
			}
			if err != nil {
				return fmt.Errorf("locate anchor: %w", err)
			}
			r.result.Anchored = true
			r.result.Probes = anchor.Probes
			pager = pagination.FromAnchor(e.fetcher, e.config.Pagination, anchor)
			r.phase = PhasePaginating

		case PhasePaginating:
			err := e.paginate(ctx, r, pager)
			r.result.Pages = pager.Pages()
			r.result.Skipped = pager.Skipped()
			return err

		default:
			return fmt.Errorf("unexpected phase %q", r.phase)
		}
	}
}

// paginate emits records until the paginator is exhausted. Each record is
// checked against the previous id before it reaches the emitter.
func (e *Extractor) paginate(ctx context.Context, r *run, pager *pagination.Paginator) error {
	for pager.Next(ctx) {
		rec := pager.Record()
		if rec.ID <= r.previous {
			return &checkpoint.RegressionError{
				Stream:    r.tracker.State().Stream,
				Current:   r.previous,
				Attempted: rec.ID,
			}
		}
		if err := e.emitter.Emit(ctx, rec); err != nil {
			return fmt.Errorf("emit record %d: %w", rec.ID, err)
		}
		r.previous = rec.ID
		r.result.Emitted++
		recordsEmitted.WithLabelValues(e.config.Stream.Name).Inc()

		if err := r.tracker.Advance(ctx, rec.ID); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction interrupted after record %d: %w", rec.ID, err)
		}
	}
	if err := pager.Err(); err != nil {
		return fmt.Errorf("paginate: %w", err)
	}
	return nil
}

// flush asks buffered observers to write out the final state. After a
// failure the context may already be cancelled, so it is detached.
func (e *Extractor) flush(ctx context.Context, failed bool) error {
	if failed {
		ctx = context.WithoutCancel(ctx)
	}
	var errs []error
	for _, o := range e.observers {
		f, ok := o.(flusher)
		if !ok {
			continue
		}
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	return nil
}
