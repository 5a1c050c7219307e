// pkg/graph/pager.go
package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxPages caps a single collection walk. Directory collections that page
// past this are almost always runaway filters, and partial data with a
// warning beats an unbounded crawl.
const maxPages = 50

// Page is one page of an OData collection response.
type Page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
	Count    *int64            `json:"@odata.count"`
}

// PageResult reports how a collection walk ended.
type PageResult struct {
	// Pages is the number of pages fetched.
	Pages int
	// Partial is true when the walk stopped before the collection was
	// exhausted, either on a failed page or at the page cap.
	Partial bool
	// Err is the error that interrupted the walk, nil when it completed
	// or was truncated only by the page cap.
	Err error
}

// FetchAllPages walks an OData collection from startURL, decoding each
// element into T. Request failures degrade to a partial result instead
// of an error: callers get everything fetched so far, possibly nothing,
// plus a PageResult describing the truncation. Only a malformed payload
// is returned as an error.
func FetchAllPages[T any](ctx context.Context, c *Client, startURL string, headers ...Header) ([]T, PageResult, error) {
	var out []T
	var res PageResult
	seen := make(map[string]bool)
	next := startURL

	for next != "" {
		if res.Pages >= maxPages {
			c.logger.Warn("page cap reached, returning partial collection",
				"url", redactQuery(startURL), "pages", res.Pages)
			res.Partial = true
			return out, res, nil
		}
		if seen[next] {
			res.Partial = true
			res.Err = fmt.Errorf("paging cycle detected at %s", redactQuery(next))
			return out, res, nil
		}
		seen[next] = true

		var page Page
		err := Retry(ctx, DefaultRetryPolicy(), func() error {
			return c.GetJSON(ctx, next, &page, headers...)
		})
		if err != nil {
			c.logger.Warn("page fetch failed, returning partial collection",
				"url", redactQuery(startURL), "pages", res.Pages, "error", err)
			res.Partial = true
			res.Err = err
			return out, res, nil
		}
		res.Pages++

		for _, raw := range page.Value {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, res, fmt.Errorf("failed to decode collection item: %w", err)
			}
			out = append(out, item)
		}
		next = page.NextLink
	}
	return out, res, nil
}
