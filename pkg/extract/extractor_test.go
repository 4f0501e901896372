package extract

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/fairing-extract/internal/testutil"
	"github.com/Sternrassler/fairing-extract/pkg/checkpoint"
	"github.com/Sternrassler/fairing-extract/pkg/client"
	"github.com/Sternrassler/fairing-extract/pkg/emit"
	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/Sternrassler/fairing-extract/pkg/pagination"
)

var testNow = testutil.Base.Add(time.Hour)

// boundaryDataset holds ids 1..10 one minute apart, with id 3 one microsecond
// before the bound and id 4 exactly on it.
func boundaryDataset() (*testutil.FakeAPI, time.Time) {
	bound := testutil.Base.Add(4 * time.Minute)
	api := testutil.NewFakeAPI()
	for id := int64(1); id <= 10; id++ {
		at := testutil.Base.Add(time.Duration(id) * time.Minute)
		if id == 3 {
			at = bound.Add(-time.Microsecond)
		}
		api.Append(testutil.Record(id, at))
	}
	return api, bound
}

type recorder struct {
	ids []fairing.RecordID
}

func (r *recorder) Emit(_ context.Context, rec fairing.Record) error {
	r.ids = append(r.ids, rec.ID)
	return nil
}

func newExtractor(fetcher pagination.PageFetcher, emitter Emitter, bound time.Time, observers ...checkpoint.Observer) *Extractor {
	cfg := Config{
		Stream:     fairing.Responses,
		StartDate:  bound,
		Pagination: pagination.Config{PageSize: 3},
	}
	e := New(fetcher, emitter, cfg, observers...)
	e.SetClock(func() time.Time { return testNow })
	return e
}

func equalIDs(a, b []fairing.RecordID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_ColdStart(t *testing.T) {
	api, bound := boundaryDataset()
	rec := &recorder{}
	store := checkpoint.NewMemoryStore()
	e := newExtractor(api, rec, bound, checkpoint.NewPersister(store, 100))

	result, err := e.Run(context.Background(), checkpoint.State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if want := testutil.Range(4, 10); !equalIDs(rec.ids, want) {
		t.Errorf("emitted %v, want %v", rec.ids, want)
	}
	if result.Phase != PhaseDone {
		t.Errorf("Phase = %s, want %s", result.Phase, PhaseDone)
	}
	if result.State.LastID != 10 || result.State.Stream != "responses" {
		t.Errorf("State = %+v, want responses at 10", result.State)
	}
	if !result.Anchored {
		t.Error("cold start should report Anchored")
	}
	if result.Emitted != 7 {
		t.Errorf("Emitted = %d, want 7", result.Emitted)
	}
	if result.Pages != 4 {
		t.Errorf("Pages = %d, want 4", result.Pages)
	}

	saved, err := store.Load(context.Background(), "responses")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.LastID != 10 {
		t.Errorf("persisted LastID = %d, want 10 after the final flush", saved.LastID)
	}
}

func TestRun_Resume(t *testing.T) {
	api, bound := boundaryDataset()
	rec := &recorder{}
	e := newExtractor(api, rec, bound)

	result, err := e.Run(context.Background(), checkpoint.State{Stream: "responses", LastID: 7})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if want := testutil.Range(8, 10); !equalIDs(rec.ids, want) {
		t.Errorf("emitted %v, want %v", rec.ids, want)
	}
	if result.Anchored || result.Probes != 0 {
		t.Errorf("resume should not search: Anchored=%v Probes=%d", result.Anchored, result.Probes)
	}
	for _, q := range api.Queries {
		if !q.Until.IsZero() {
			t.Errorf("resume sent an until filter: %v", q.Values().Encode())
		}
	}
	if api.Queries[0].Before != "7" {
		t.Errorf("first query before = %q, want \"7\"", api.Queries[0].Before)
	}
	if result.State.LastID != 10 {
		t.Errorf("LastID = %d, want 10", result.State.LastID)
	}
}

func TestRun_NoAnchor(t *testing.T) {
	tests := []struct {
		name  string
		setup func() (*testutil.FakeAPI, time.Time)
	}{
		{
			name: "empty collection",
			setup: func() (*testutil.FakeAPI, time.Time) {
				return testutil.NewFakeAPI(), testutil.Base
			},
		},
		{
			name: "all records older than the bound",
			setup: func() (*testutil.FakeAPI, time.Time) {
				api, _ := boundaryDataset()
				return api, testutil.Base.Add(30 * time.Minute)
			},
		},
		{
			name: "bound in the future",
			setup: func() (*testutil.FakeAPI, time.Time) {
				api, _ := boundaryDataset()
				return api, testNow.Add(time.Hour)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, bound := tt.setup()
			rec := &recorder{}
			e := newExtractor(api, rec, bound)

			result, err := e.Run(context.Background(), checkpoint.State{})
			if err != nil {
				t.Fatalf("Run() error = %v, want nil", err)
			}
			if result.Phase != PhaseDone {
				t.Errorf("Phase = %s, want %s", result.Phase, PhaseDone)
			}
			if len(rec.ids) != 0 {
				t.Errorf("emitted %v, want nothing", rec.ids)
			}
			if result.State.HasCursor() {
				t.Errorf("State = %+v, want no cursor", result.State)
			}
		})
	}
}

func TestRun_FetchErrorKeepsCheckpoint(t *testing.T) {
	api, bound := boundaryDataset()
	api.RequireToken("secret")
	baseURL := api.Serve("/responses")
	defer api.Close()
	api.FailWith(fairing.Query{Before: "6", Limit: 3}, http.StatusUnauthorized)

	cfg := client.DefaultConfig("secret")
	cfg.BaseURL = baseURL
	cfg.RequestsPerSecond = 0
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer c.Close()

	rec := &recorder{}
	store := checkpoint.NewMemoryStore()
	e := newExtractor(c.Endpoint(fairing.Responses.Path), rec, bound, checkpoint.NewPersister(store, 100))

	result, err := e.Run(context.Background(), checkpoint.State{})
	if err == nil {
		t.Fatal("Run() error = nil, want fetch error")
	}
	var fetchErr *client.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Run() error = %v, want 401 FetchError", err)
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want %s", result.Phase, PhaseFailed)
	}
	if want := testutil.Range(4, 6); !equalIDs(rec.ids, want) {
		t.Errorf("emitted %v, want %v", rec.ids, want)
	}
	if result.State.LastID != 6 {
		t.Errorf("LastID = %d, want 6", result.State.LastID)
	}
	if saved, _ := store.Load(context.Background(), "responses"); saved.LastID != 6 {
		t.Errorf("persisted LastID = %d, want 6", saved.LastID)
	}
}

func TestRun_PageOrderViolation(t *testing.T) {
	fetcher := fetcherFunc(func(_ context.Context, q fairing.Query) (*fairing.Page, error) {
		return &fairing.Page{Records: []fairing.Record{
			testutil.Record(8, testutil.Base),
			testutil.Record(9, testutil.Base),
		}, NewerToken: "9"}, nil
	})
	rec := &recorder{}
	e := newExtractor(fetcher, rec, testutil.Base)

	result, err := e.Run(context.Background(), checkpoint.State{LastID: 7})
	if !errors.Is(err, pagination.ErrPageOrder) {
		t.Fatalf("Run() error = %v, want ErrPageOrder", err)
	}
	if result.Phase != PhaseFailed || len(rec.ids) != 0 || result.State.LastID != 7 {
		t.Errorf("result = %+v emitted %v, want FAILED with nothing emitted at 7", result, rec.ids)
	}
}

func TestRun_NoGapAcrossRuns(t *testing.T) {
	api, bound := boundaryDataset()
	rec := &recorder{}
	e := newExtractor(api, rec, bound)

	first, err := e.Run(context.Background(), checkpoint.State{})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	last := testutil.Base.Add(10 * time.Minute)
	for id := int64(11); id <= 14; id++ {
		api.Append(testutil.Record(id, last.Add(time.Duration(id-10)*time.Second)))
	}

	second, err := e.Run(context.Background(), first.State)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if want := testutil.Range(4, 14); !equalIDs(rec.ids, want) {
		t.Errorf("emitted across runs %v, want %v", rec.ids, want)
	}
	if !testutil.SortedIDs(rec.ids) {
		t.Errorf("emissions not strictly ascending: %v", rec.ids)
	}
	if second.Emitted != 4 || second.State.LastID != 14 {
		t.Errorf("second run = %+v, want 4 emitted ending at 14", second)
	}
}

func TestRun_CancelBetweenEmissions(t *testing.T) {
	api, bound := boundaryDataset()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []fairing.RecordID
	emitter := EmitterFunc(func(_ context.Context, r fairing.Record) error {
		ids = append(ids, r.ID)
		if len(ids) == 2 {
			cancel()
		}
		return nil
	})
	store := checkpoint.NewMemoryStore()
	e := newExtractor(api, emitter, bound, checkpoint.NewPersister(store, 100))

	result, err := e.Run(ctx, checkpoint.State{Stream: "responses", LastID: 7})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want %s", result.Phase, PhaseFailed)
	}
	if result.State.LastID != 9 || result.Emitted != 2 {
		t.Errorf("result = %+v, want 2 emitted ending at 9", result)
	}
	if saved, _ := store.Load(context.Background(), "responses"); saved.LastID != 9 {
		t.Errorf("persisted LastID = %d, want 9 despite the cancelled context", saved.LastID)
	}
}

func TestRun_EmitterError(t *testing.T) {
	api, bound := boundaryDataset()
	boom := errors.New("sink unavailable")
	emitter := EmitterFunc(func(_ context.Context, r fairing.Record) error {
		if r.ID == 9 {
			return boom
		}
		return nil
	})
	e := newExtractor(api, emitter, bound)

	result, err := e.Run(context.Background(), checkpoint.State{LastID: 7})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if result.State.LastID != 8 {
		t.Errorf("LastID = %d, want 8: a record that was not emitted must not advance", result.State.LastID)
	}
}

func TestRun_ObserverError(t *testing.T) {
	api, bound := boundaryDataset()
	boom := errors.New("disk full")
	observer := checkpoint.ObserverFunc(func(_ context.Context, s checkpoint.State) error {
		return boom
	})
	e := newExtractor(api, &recorder{}, bound, observer)

	result, err := e.Run(context.Background(), checkpoint.State{LastID: 7})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want %s", result.Phase, PhaseFailed)
	}
}

func TestRun_WithWriter(t *testing.T) {
	api, bound := boundaryDataset()
	var out bytes.Buffer
	writer := emit.NewWriter(&out, fairing.Responses, emit.Config{})
	store := checkpoint.NewMemoryStore()
	e := newExtractor(api, writer, bound, writer, checkpoint.NewPersister(store, 1))

	if _, err := e.Run(context.Background(), checkpoint.State{LastID: 7}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 3 RECORD and 1 STATE:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[3], `"type":"STATE"`) || !strings.Contains(lines[3], `"last_id":10`) {
		t.Errorf("final line = %s, want STATE at 10", lines[3])
	}
}

type fetcherFunc func(ctx context.Context, q fairing.Query) (*fairing.Page, error)

func (f fetcherFunc) FetchPage(ctx context.Context, q fairing.Query) (*fairing.Page, error) {
	return f(ctx, q)
}
