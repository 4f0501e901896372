// Package checkpoint tracks the id of the last emitted record so that an
// extraction can resume where the previous run stopped.
//
// The Tracker owns the in-memory cursor and refuses to move it backwards.
// Persistence is left to Observers: a Persister writes the state to a Store
// (file, Redis or PostgreSQL) at its own cadence.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for checkpoint tracking.
var (
	lastIDGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fairing_checkpoint_last_id",
		Help: "Id of the last record the checkpoint advanced to, by stream",
	}, []string{"stream"})

	advancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_checkpoint_advances_total",
		Help: "Total number of checkpoint advances by stream",
	}, []string{"stream"})

	regressionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_checkpoint_regressions_total",
		Help: "Total number of refused backward checkpoint moves by stream",
	}, []string{"stream"})

	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_checkpoint_saves_total",
		Help: "Total number of checkpoint saves by backend and result",
	}, []string{"backend", "result"})
)

var (
	// ErrRegression matches every *RegressionError.
	ErrRegression = errors.New("checkpoint regression")

	// ErrStaleState is returned by stores when the stored checkpoint is
	// already ahead of the state being saved.
	ErrStaleState = errors.New("stored checkpoint is ahead of the saved state")
)

// State is the persisted cursor of one stream.
type State struct {
	Stream    string           `json:"stream"`
	LastID    fairing.RecordID `json:"last_id,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// HasCursor reports whether a previous run emitted anything.
func (s State) HasCursor() bool {
	return s.LastID > 0
}

// RegressionError reports an attempt to move the cursor to an id that is
// not greater than the current one. It means the source broke its ordering
// guarantee.
type RegressionError struct {
	Stream    string
	Current   fairing.RecordID
	Attempted fairing.RecordID
}

// Error implements the error interface.
func (e *RegressionError) Error() string {
	return fmt.Sprintf("checkpoint regression on %s: id %d does not follow %d", e.Stream, e.Attempted, e.Current)
}

// Is makes errors.Is(err, ErrRegression) match.
func (e *RegressionError) Is(target error) bool {
	return target == ErrRegression
}

// Observer is notified after every successful advance.
type Observer interface {
	Observe(ctx context.Context, state State) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, state State) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, state State) error {
	return f(ctx, state)
}

// Tracker holds the cursor of one run. It is not safe for concurrent use.
type Tracker struct {
	state     State
	observers []Observer
	now       func() time.Time
}

// NewTracker starts tracking from initial.
func NewTracker(initial State, observers ...Observer) *Tracker {
	return &Tracker{
		state:     initial,
		observers: observers,
		now:       time.Now,
	}
}

// AddObserver registers o for subsequent advances.
func (t *Tracker) AddObserver(o Observer) {
	t.observers = append(t.observers, o)
}

// State returns the current cursor.
func (t *Tracker) State() State {
	return t.state
}

// Advance moves the cursor to id and notifies the observers. An id that is
// not greater than the current one is refused with a *RegressionError and
// leaves the state untouched.
// An observer error does not roll the cursor back.
func (t *Tracker) Advance(ctx context.Context, id fairing.RecordID) error {
	if id <= t.state.LastID {
		regressionsTotal.WithLabelValues(t.state.Stream).Inc()
		return &RegressionError{Stream: t.state.Stream, Current: t.state.LastID, Attempted: id}
	}

	t.state.LastID = id
	t.state.UpdatedAt = t.now().UTC()
	advancesTotal.WithLabelValues(t.state.Stream).Inc()
	lastIDGauge.WithLabelValues(t.state.Stream).Set(float64(id))

	for _, o := range t.observers {
		if err := o.Observe(ctx, t.state); err != nil {
			return fmt.Errorf("checkpoint observer: %w", err)
		}
	}
	return nil
}
