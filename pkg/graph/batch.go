// pkg/graph/batch.go
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// BatchLimit is the maximum number of requests Graph accepts in one
// $batch envelope.
const BatchLimit = 20

// BatchStep is one request inside a $batch envelope. ID is assigned
// positionally by ExecuteBatch.
type BatchStep struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// BatchResponse is one response inside a $batch envelope.
type BatchResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// OK reports whether the step succeeded.
func (r BatchResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type batchEnvelope struct {
	Requests []BatchStep `json:"requests"`
}

type batchResult struct {
	Responses []BatchResponse `json:"responses"`
}

// ExecuteBatch sends up to BatchLimit steps as a single $batch call
// against the v1.0 endpoint and returns the responses keyed by step ID.
// Step IDs are assigned by position ("1", "2", ...). Responses come back
// in arbitrary order.
func (c *Client) ExecuteBatch(ctx context.Context, steps []BatchStep) (map[string]BatchResponse, error) {
	return c.ExecuteBatchAt(ctx, c.V1("/$batch"), steps)
}

// ExecuteBatchAt is ExecuteBatch against an explicit $batch URL, for the
// device management sub-requests that only exist on beta.
func (c *Client) ExecuteBatchAt(ctx context.Context, batchURL string, steps []BatchStep) (map[string]BatchResponse, error) {
	if len(steps) == 0 {
		return map[string]BatchResponse{}, nil
	}
	if len(steps) > BatchLimit {
		return nil, fmt.Errorf("batch of %d exceeds the %d request limit", len(steps), BatchLimit)
	}
	// Annotate a copy so the caller's steps stay untouched.
	requests := make([]BatchStep, len(steps))
	copy(requests, steps)
	for i := range requests {
		requests[i].ID = strconv.Itoa(i + 1)
		if len(requests[i].Body) > 0 && requests[i].Headers == nil {
			requests[i].Headers = map[string]string{"Content-Type": "application/json"}
		}
	}

	var result batchResult
	err := c.PostJSON(ctx, batchURL, batchEnvelope{Requests: requests}, &result)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]BatchResponse, len(result.Responses))
	for _, r := range result.Responses {
		byID[r.ID] = r
	}
	return byID, nil
}

// BatchError converts a failed batch response into a graph Error so
// callers can reuse the usual status checks.
func BatchError(r BatchResponse) error {
	ge := &Error{Status: r.Status}
	var oe odataError
	if err := json.Unmarshal(r.Body, &oe); err == nil && oe.Error.Code != "" {
		ge.Code = oe.Error.Code
		ge.Message = oe.Error.Message
	} else {
		ge.Message = http.StatusText(r.Status)
	}
	return ge
}
