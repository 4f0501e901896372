// Package pagination walks the Fairing responses collection in ascending
// order even though the API only serves it newest first.
//
// A run starts from one of two places:
//
//   - a cursor (the id of the last record emitted by a previous run): pages
//     are requested with before=<id> and each page's newest id becomes the
//     next before token;
//   - a time bound on a cold start: the Locator finds the anchor page, the
//     oldest page holding records at or after the bound, by probing the
//     until filter.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	locator := pagination.NewLocator(endpoint, config)
//	anchor, err := locator.Locate(ctx, startDate)
//	if errors.Is(err, pagination.ErrNoAnchor) {
//		return nil // nothing to extract yet
//	}
//	p := pagination.FromAnchor(endpoint, config, anchor)
//	for p.Next(ctx) {
//		emit(p.Record())
//	}
//	if err := p.Err(); err != nil {
//		return err
//	}
//
// Every fetch is sequential: each request depends on the previous page.
//
// An empty page carries no tokens, so it cannot tell "nothing newer yet" from
// a gap. The Paginator treats it as the end of the feed; the Locator treats
// it as "no data at or before this instant" and keeps searching.
package pagination
