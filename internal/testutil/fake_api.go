// Package testutil provides testing utilities for the Fairing extractor.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
)

// Base is the reference instant used by test datasets.
var Base = time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

// FakeAPI is an in-memory model of the responses collection. It answers
// queries with the ordering and pagination rules of the real endpoint and
// can serve them over HTTP.
type FakeAPI struct {
	mu      sync.RWMutex
	records []fairing.Record // ascending by id
	token   string

	server *httptest.Server

	// failures maps a query string to statuses returned before succeeding.
	failures map[string][]int
	// blanks holds "before" tokens answered with an empty page.
	blanks map[string]bool

	// Tracking
	RequestCount int
	Queries      []fairing.Query
	LastHeader   http.Header
}

// NewFakeAPI creates an empty collection.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		failures: make(map[string][]int),
		blanks:   make(map[string]bool),
	}
}

// Append inserts records, which must be newer than everything stored.
func (f *FakeAPI) Append(records ...fairing.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		if n := len(f.records); n > 0 && r.ID <= f.records[n-1].ID {
			panic(fmt.Sprintf("testutil: record %d appended after %d", r.ID, f.records[n-1].ID))
		}
		f.records = append(f.records, r)
	}
}

// Len returns the number of stored records.
func (f *FakeAPI) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

// RequireToken makes the HTTP handler reject requests whose Authorization
// header differs from token.
func (f *FakeAPI) RequireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// FailWith makes the HTTP handler answer the query with the given statuses,
// one per request, before serving it normally.
func (f *FakeAPI) FailWith(q fairing.Query, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := q.Values().Encode()
	f.failures[key] = append(f.failures[key], statuses...)
}

// BlankBefore makes requests with before=token return an empty page even
// though newer records exist.
func (f *FakeAPI) BlankBefore(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blanks[token] = true
}

// FetchPage answers q directly, so the fake can stand in for an HTTP client.
func (f *FakeAPI) FetchPage(ctx context.Context, q fairing.Query) (*fairing.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.RequestCount++
	f.Queries = append(f.Queries, q)
	f.mu.Unlock()
	return f.Query(q), nil
}

// Query evaluates q against the collection: filters first, then cursor, then
// the newest or oldest limit records depending on direction.
func (f *FakeAPI) Query(q fairing.Query) *fairing.Page {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if q.Before != "" && f.blanks[q.Before] {
		return &fairing.Page{}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var matched []fairing.Record
	for _, r := range f.records {
		at := r.InsertedAt.Truncate(fairing.Resolution)
		if !q.Since.IsZero() && at.Before(q.Since.Truncate(fairing.Resolution)) {
			continue
		}
		if !q.Until.IsZero() && at.After(q.Until.Truncate(fairing.Resolution)) {
			continue
		}
		if q.After != "" && r.ID >= tokenID(q.After) {
			continue
		}
		if q.Before != "" && r.ID <= tokenID(q.Before) {
			continue
		}
		matched = append(matched, r)
	}

	// before walks towards newer data: keep the records closest to the token.
	if q.Before != "" {
		if len(matched) > limit {
			matched = matched[:limit]
		}
	} else if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	page := &fairing.Page{Records: make([]fairing.Record, len(matched))}
	for i, r := range matched {
		page.Records[len(matched)-1-i] = r
	}
	if !page.Empty() {
		page.OlderToken = page.Oldest().ID.String()
		page.NewerToken = page.Newest().ID.String()
	}
	return page
}

func tokenID(token string) fairing.RecordID {
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("testutil: bad token %q", token))
	}
	return fairing.RecordID(n)
}

// Serve starts an HTTP server exposing the collection at path.
func (f *FakeAPI) Serve(path string) string {
	mux := http.NewServeMux()
	mux.HandleFunc(path, f.handle)
	f.server = httptest.NewServer(mux)
	return f.server.URL
}

// Close shuts down the HTTP server, if any.
func (f *FakeAPI) Close() {
	if f.server != nil {
		f.server.Close()
	}
}

// Reset clears the tracking counters.
func (f *FakeAPI) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RequestCount = 0
	f.Queries = nil
	f.LastHeader = nil
}

// GetRequestCount returns the number of queries answered.
func (f *FakeAPI) GetRequestCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.RequestCount
}

func (f *FakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.RequestCount++
	f.Queries = append(f.Queries, q)
	f.LastHeader = r.Header.Clone()
	token := f.token
	key := q.Values().Encode()
	var status int
	if pending := f.failures[key]; len(pending) > 0 {
		status, f.failures[key] = pending[0], pending[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if token != "" && r.Header.Get("Authorization") != token {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "unauthorized"}`))
		return
	}
	if status != 0 {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "injected failure"}`))
		return
	}

	page := f.Query(q)
	body := struct {
		Data []fairing.Record `json:"data"`
	}{Data: page.Records}
	if body.Data == nil {
		body.Data = []fairing.Record{}
	}
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func parseQuery(r *http.Request) (fairing.Query, error) {
	v := r.URL.Query()
	q := fairing.Query{
		After:  v.Get("after"),
		Before: v.Get("before"),
	}
	var err error
	if s := v.Get("since"); s != "" {
		if q.Since, err = time.Parse(fairing.TimeLayout, s); err != nil {
			return q, err
		}
	}
	if s := v.Get("until"); s != "" {
		if q.Until, err = time.Parse(fairing.TimeLayout, s); err != nil {
			return q, err
		}
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			return q, err
		}
	}
	return q, nil
}

// Record builds a record with the usual response fields.
func Record(id int64, insertedAt time.Time) fairing.Record {
	rid := fairing.RecordID(id)
	return fairing.Record{
		ID:         rid,
		InsertedAt: insertedAt.UTC(),
		Fields: map[string]any{
			"id":          rid.String(),
			"inserted_at": fairing.FormatTime(insertedAt),
			"question":    "How did you hear about us?",
			"response":    "Podcast",
			"order_total": "42.50",
		},
	}
}

// Sequence builds records first..last spaced step apart, starting at start.
func Sequence(first, last int64, start time.Time, step time.Duration) []fairing.Record {
	out := make([]fairing.Record, 0, last-first+1)
	for id := first; id <= last; id++ {
		out = append(out, Record(id, start.Add(time.Duration(id-first)*step)))
	}
	return out
}

// IDs extracts the ids of records, in order.
func IDs(records []fairing.Record) []fairing.RecordID {
	ids := make([]fairing.RecordID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// Range returns the ids from..to inclusive.
func Range(from, to int64) []fairing.RecordID {
	var ids []fairing.RecordID
	for id := from; id <= to; id++ {
		ids = append(ids, fairing.RecordID(id))
	}
	return ids
}

// SortedIDs reports whether ids strictly increase.
func SortedIDs(ids []fairing.RecordID) bool {
	return sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) && uniqueIDs(ids)
}

func uniqueIDs(ids []fairing.RecordID) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return false
		}
	}
	return true
}
