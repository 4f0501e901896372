package fairing

import (
	"strconv"

	json "github.com/goccy/go-json"
)

// Stream describes one extractable collection.
type Stream struct {
	Name string
	Path string
	// KeyProperties are emitted with the schema-less RECORD messages.
	KeyProperties []string
	// Normalize adjusts a record before it is emitted. May be nil.
	Normalize func(*Record)
}

// Responses is the survey responses collection.
var Responses = Stream{
	Name:          "responses",
	Path:          "/responses",
	KeyProperties: []string{"id"},
	Normalize:     normalizeResponse,
}

// numericFields are sent as strings by the API but loaded as numbers.
var numericFields = []string{"order_total", "order_total_usd"}

func normalizeResponse(r *Record) {
	for _, name := range numericFields {
		v, ok := r.Fields[name]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			r.Fields[name] = f
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
