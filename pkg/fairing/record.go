// Package fairing defines the data model of the Fairing responses collection:
// records, pages of records and the query parameters used to fetch them.
//
// The collection is append-only. Record ids are assigned in insertion order,
// and every page the API returns is sorted newest first.
package fairing

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// TimeLayout is the timestamp format accepted by the API's since/until filters.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Resolution is the finest time step the API distinguishes.
const Resolution = time.Microsecond

// FormatTime renders t in the layout accepted by the API.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp as returned by the API. The API emits RFC 3339
// with a variable number of fractional digits, which is not the format it
// accepts back.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// RecordID is the monotonically assigned identifier of a record.
// Zero means "no record".
type RecordID int64

// ParseRecordID parses a decimal record id.
func ParseRecordID(s string) (RecordID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse record id %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("record id must be positive (got %d)", n)
	}
	return RecordID(n), nil
}

// String returns the decimal form used in pagination tokens.
func (id RecordID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts both quoted and bare numeric ids.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	parsed, err := ParseRecordID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Record is a single response. Fields keeps every attribute the API returned;
// ID and InsertedAt are lifted out of it for ordering.
type Record struct {
	ID         RecordID
	InsertedAt time.Time
	Fields     map[string]any
}

// UnmarshalJSON decodes a raw API object and extracts id and inserted_at.
func (r *Record) UnmarshalJSON(data []byte) error {
	var head struct {
		ID         *RecordID `json:"id"`
		InsertedAt string    `json:"inserted_at"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if head.ID == nil {
		return fmt.Errorf("decode record: missing id")
	}
	insertedAt, err := ParseTime(head.InsertedAt)
	if err != nil {
		return fmt.Errorf("decode record %d: %w", *head.ID, err)
	}

	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("decode record %d fields: %w", *head.ID, err)
	}

	r.ID = *head.ID
	r.InsertedAt = insertedAt
	r.Fields = fields
	return nil
}

// MarshalJSON writes the record's raw fields.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return json.Marshal(map[string]any{
			"id":          r.ID.String(),
			"inserted_at": FormatTime(r.InsertedAt),
		})
	}
	return json.Marshal(r.Fields)
}
