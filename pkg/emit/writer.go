// Package emit writes extracted records as Singer-style JSON lines: a
// SCHEMA header, one RECORD message per record and STATE messages carrying
// the resume cursor.
package emit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Sternrassler/fairing-extract/pkg/checkpoint"
	"github.com/Sternrassler/fairing-extract/pkg/fairing"
)

// Message types.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

type schemaMessage struct {
	Type               string         `json:"type"`
	Stream             string         `json:"stream"`
	Schema             map[string]any `json:"schema"`
	KeyProperties      []string       `json:"key_properties"`
	BookmarkProperties []string       `json:"bookmark_properties,omitempty"`
}

type recordMessage struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Record        fairing.Record `json:"record"`
	TimeExtracted time.Time      `json:"time_extracted"`
}

type stateMessage struct {
	Type  string     `json:"type"`
	Value StateValue `json:"value"`
}

// StateValue is the payload of a STATE message.
type StateValue struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Bookmark is the cursor of one stream inside a STATE message.
type Bookmark struct {
	LastID fairing.RecordID `json:"last_id"`
}

// Config holds writer configuration.
type Config struct {
	// StateEvery writes a STATE message every n records. Zero writes one
	// only on Flush.
	StateEvery int
}

// Writer emits messages for one stream. Records are buffered; the buffer is
// flushed on every checkpoint advance so that no cursor is persisted ahead
// of the records it covers.
type Writer struct {
	mu      sync.Mutex
	out     *bufio.Writer
	enc     *json.Encoder
	stream  fairing.Stream
	config  Config
	now     func() time.Time
	pending int
	last    checkpoint.State
	dirty   bool
	emitted int
}

// NewWriter creates a writer for stream on w.
func NewWriter(w io.Writer, stream fairing.Stream, config Config) *Writer {
	out := bufio.NewWriter(w)
	return &Writer{
		out:    out,
		enc:    json.NewEncoder(out),
		stream: stream,
		config: config,
		now:    time.Now,
	}
}

// WriteSchema writes the SCHEMA header. The schema is left open: the API
// defines the record shape.
func (w *Writer) WriteSchema() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := schemaMessage{
		Type:               TypeSchema,
		Stream:             w.stream.Name,
		Schema:             map[string]any{"type": "object", "additionalProperties": true},
		KeyProperties:      w.stream.KeyProperties,
		BookmarkProperties: []string{"id"},
	}
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return w.out.Flush()
}

// Emit writes one RECORD message after normalising the record.
func (w *Writer) Emit(_ context.Context, r fairing.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stream.Normalize != nil {
		r.Fields = cloneFields(r.Fields)
		w.stream.Normalize(&r)
	}
	msg := recordMessage{
		Type:          TypeRecord,
		Stream:        w.stream.Name,
		Record:        r,
		TimeExtracted: w.now().UTC(),
	}
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write record %d: %w", r.ID, err)
	}
	w.emitted++
	return nil
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Observe implements checkpoint.Observer. It flushes buffered records and
// writes a STATE message every StateEvery advances.
func (w *Writer) Observe(_ context.Context, state checkpoint.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = state
	w.dirty = true
	w.pending++
	if w.config.StateEvery > 0 && w.pending >= w.config.StateEvery {
		return w.writeState()
	}
	return w.out.Flush()
}

// Flush writes a STATE message for the latest cursor if one is pending and
// flushes the buffer.
func (w *Writer) Flush(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirty {
		return w.writeState()
	}
	return w.out.Flush()
}

// WriteState writes a STATE message for state unconditionally.
func (w *Writer) WriteState(state checkpoint.State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = state
	return w.writeState()
}

func (w *Writer) writeState() error {
	msg := stateMessage{
		Type: TypeState,
		Value: StateValue{Bookmarks: map[string]Bookmark{
			w.stream.Name: {LastID: w.last.LastID},
		}},
	}
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	w.dirty = false
	w.pending = 0
	return w.out.Flush()
}

// Emitted returns the number of RECORD messages written.
func (w *Writer) Emitted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emitted
}

// ParseState reads the cursor of stream from a STATE value, as passed back
// by a Singer runner. A missing bookmark yields a zero id.
func ParseState(data []byte, stream string) (fairing.RecordID, error) {
	var v struct {
		Bookmarks map[string]struct {
			LastID json.RawMessage `json:"last_id"`
		} `json:"bookmarks"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("decode state: %w", err)
	}
	b, ok := v.Bookmarks[stream]
	if !ok || len(b.LastID) == 0 || string(b.LastID) == "null" {
		return 0, nil
	}
	var id fairing.RecordID
	if err := json.Unmarshal(b.LastID, &id); err != nil {
		return 0, fmt.Errorf("decode state bookmark for %s: %w", stream, err)
	}
	return id, nil
}
