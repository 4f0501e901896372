package checkpoint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persister is an Observer that writes the state to a Store every Every
// advances and on Flush.
type Persister struct {
	store   Store
	every   int
	pending int
	last    State
	saved   State
	stored  bool
	dirty   bool
	logger  zerolog.Logger
}

// NewPersister creates a persister. every <= 1 saves after each advance.
func NewPersister(store Store, every int) *Persister {
	if every < 1 {
		every = 1
	}
	return &Persister{
		store:  store,
		every:  every,
		logger: log.With().Str("component", "checkpoint-persister").Logger(),
	}
}

// Observe implements Observer.
func (p *Persister) Observe(ctx context.Context, state State) error {
	p.last = state
	p.dirty = true
	p.pending++
	if p.pending < p.every {
		return nil
	}
	return p.Flush(ctx)
}

// Flush saves the latest observed state if it was not saved yet.
func (p *Persister) Flush(ctx context.Context) error {
	if !p.dirty {
		return nil
	}
	if err := p.store.Save(ctx, p.last); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	p.saved = p.last
	p.stored = true
	p.dirty = false
	p.pending = 0

	p.logger.Debug().
		Str("stream", p.last.Stream).
		Int64("last_id", int64(p.last.LastID)).
		Msg("Checkpoint saved")
	return nil
}

// Last returns the latest observed state.
func (p *Persister) Last() State {
	return p.last
}

// Saved returns the latest state the store accepted. ok is false until a
// save succeeds.
func (p *Persister) Saved() (state State, ok bool) {
	return p.saved, p.stored
}
