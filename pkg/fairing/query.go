package fairing

import (
	"net/url"
	"strconv"
	"time"
)

// Query holds the filter and pagination parameters of one page request.
// Zero values are omitted. At most one of After and Before should be set.
type Query struct {
	Since  time.Time
	Until  time.Time
	After  string // older than this token
	Before string // newer than this token
	Limit  int
}

// Values encodes the query as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if !q.Since.IsZero() {
		v.Set("since", FormatTime(q.Since))
	}
	if !q.Until.IsZero() {
		v.Set("until", FormatTime(q.Until))
	}
	if q.After != "" {
		v.Set("after", q.After)
	}
	if q.Before != "" {
		v.Set("before", q.Before)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Sealed reports whether the page answering q can never change. Older pages
// are fixed once written; a newer page is fixed only once it is full.
func (q Query) Sealed(p *Page) bool {
	switch {
	case q.After != "":
		return true
	case q.Before != "":
		return p.Full(q.Limit)
	default:
		return false
	}
}
