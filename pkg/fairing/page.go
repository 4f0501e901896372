package fairing

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Page is one response of the collection endpoint. Records are ordered
// newest first.
//
// OlderToken continues towards older records (sent as "after"), NewerToken
// towards newer records (sent as "before"). An empty page carries neither,
// wherever it sits in the collection.
type Page struct {
	Records    []Record
	OlderToken string
	NewerToken string
}

// wirePage is the JSON body of a collection response.
type wirePage struct {
	Data []Record `json:"data"`
	Next *string  `json:"next,omitempty"`
	Prev *string  `json:"prev,omitempty"`
}

// DecodePage parses a response body. Missing links are derived from the
// record ids, which the API accepts as pagination tokens.
func DecodePage(body []byte) (*Page, error) {
	var w wirePage
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	page := &Page{Records: w.Data}
	if len(page.Records) == 0 {
		return page, nil
	}

	if w.Next != nil && *w.Next != "" {
		page.OlderToken = *w.Next
	} else {
		page.OlderToken = page.Oldest().ID.String()
	}
	if w.Prev != nil && *w.Prev != "" {
		page.NewerToken = *w.Prev
	} else {
		page.NewerToken = page.Newest().ID.String()
	}
	return page, nil
}

// Empty reports whether the page holds no records.
func (p *Page) Empty() bool {
	return p == nil || len(p.Records) == 0
}

// Full reports whether the page holds limit records or more.
func (p *Page) Full(limit int) bool {
	return !p.Empty() && len(p.Records) >= limit
}

// Newest returns the first record. The page must not be empty.
func (p *Page) Newest() Record {
	return p.Records[0]
}

// Oldest returns the last record. The page must not be empty.
func (p *Page) Oldest() Record {
	return p.Records[len(p.Records)-1]
}

// Ascending returns a copy of the records, oldest first.
func (p *Page) Ascending() []Record {
	if p.Empty() {
		return nil
	}
	out := make([]Record, len(p.Records))
	for i, r := range p.Records {
		out[len(out)-1-i] = r
	}
	return out
}

// CheckOrder verifies that ids strictly decrease along the page.
func (p *Page) CheckOrder() error {
	for i := 1; i < len(p.Records); i++ {
		if p.Records[i].ID >= p.Records[i-1].ID {
			return fmt.Errorf("record %d at position %d follows record %d",
				p.Records[i].ID, i, p.Records[i-1].ID)
		}
	}
	return nil
}

// IDs lists the record ids in page order.
func (p *Page) IDs() []RecordID {
	if p.Empty() {
		return nil
	}
	ids := make([]RecordID, len(p.Records))
	for i, r := range p.Records {
		ids[i] = r.ID
	}
	return ids
}
