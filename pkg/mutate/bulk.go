// pkg/mutate/bulk.go
package mutate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/google/uuid"
)

// ErrDynamicGroup is returned before any network call when a mutation
// targets a group whose membership is rule-managed.
var ErrDynamicGroup = errors.New("cannot modify membership of a dynamic group")

// GroupResult is the per-group outcome of a bulk add or remove.
type GroupResult struct {
	GroupID   string
	GroupName string
	Err       error
}

// Mutator performs membership mutations, refusing any operation on a
// group the session has observed as dynamic.
type Mutator struct {
	client  *graph.Client
	session *directory.Session
}

func NewMutator(c *graph.Client, session *directory.Session) *Mutator {
	return &Mutator{client: c, session: session}
}

func (m *Mutator) checkMutable(groups []directory.GroupRef) error {
	for _, g := range groups {
		if _, err := uuid.Parse(g.ID); err != nil {
			return fmt.Errorf("invalid group ID %q: %w", g.ID, err)
		}
		if g.IsDynamic || m.session.IsDynamic(g.ID) {
			return fmt.Errorf("group %s: %w", g.ID, ErrDynamicGroup)
		}
	}
	return nil
}

// AddToGroups adds a principal to each group concurrently. Each group
// reports its own outcome; one failure never aborts the rest.
func (m *Mutator) AddToGroups(ctx context.Context, principalID string, groups []directory.GroupRef) ([]GroupResult, error) {
	if err := m.checkMutable(groups); err != nil {
		return nil, err
	}

	body := map[string]string{
		"@odata.id": m.client.Beta("/directoryObjects/" + principalID),
	}
	return m.forEachGroup(groups, func(g directory.GroupRef) error {
		url := m.client.Beta("/groups/" + g.ID + "/members/$ref")
		return m.client.PostJSON(ctx, url, body, nil)
	}), nil
}

// RemoveFromGroups removes a principal from each group concurrently.
func (m *Mutator) RemoveFromGroups(ctx context.Context, principalID string, groups []directory.GroupRef) ([]GroupResult, error) {
	if err := m.checkMutable(groups); err != nil {
		return nil, err
	}

	return m.forEachGroup(groups, func(g directory.GroupRef) error {
		url := m.client.V1("/groups/" + g.ID + "/members/" + principalID + "/$ref")
		return m.client.Delete(ctx, url)
	}), nil
}

func (m *Mutator) forEachGroup(groups []directory.GroupRef, fn func(directory.GroupRef) error) []GroupResult {
	results := make([]GroupResult, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = GroupResult{GroupID: g.ID, GroupName: g.DisplayName, Err: fn(g)}
		}()
	}
	wg.Wait()
	return results
}

// MemberFailure records one member that could not be removed.
type MemberFailure struct {
	MemberID   string
	MemberName string
	Reason     string
}

// ClearResult summarizes a bulk member removal. Removed plus Failed
// always equals Total.
type ClearResult struct {
	Total    int
	Removed  int
	Failed   int
	Failures []MemberFailure
}

// OK reports whether every member was removed.
func (r ClearResult) OK() bool { return r.Failed == 0 }

// ClearMembers removes members from a group in $batch partitions of 20.
// A failed sub-request becomes a failure entry; a failed batch call
// falls back to sequential individual deletes, each retried up to three
// times honoring Retry-After on throttling responses only.
func (m *Mutator) ClearMembers(ctx context.Context, groupID string, members []directory.Member) (ClearResult, error) {
	if m.session.IsDynamic(groupID) {
		return ClearResult{}, fmt.Errorf("group %s: %w", groupID, ErrDynamicGroup)
	}
	if _, err := uuid.Parse(groupID); err != nil {
		return ClearResult{}, fmt.Errorf("invalid group ID %q: %w", groupID, err)
	}

	result := ClearResult{Total: len(members)}
	for start := 0; start < len(members); start += graph.BatchLimit {
		end := min(start+graph.BatchLimit, len(members))
		m.clearPartition(ctx, groupID, members[start:end], &result)
	}
	return result, nil
}

func (m *Mutator) clearPartition(ctx context.Context, groupID string, part []directory.Member, result *ClearResult) {
	steps := make([]graph.BatchStep, len(part))
	for i, member := range part {
		steps[i] = graph.BatchStep{
			Method: "DELETE",
			URL:    "/groups/" + groupID + "/members/" + member.ID + "/$ref",
		}
	}

	responses, err := m.client.ExecuteBatch(ctx, steps)
	if err != nil {
		slog.Warn("batch removal failed, falling back to individual deletes",
			"group", groupID, "members", len(part), "error", err)
		m.clearSequential(ctx, groupID, part, result)
		return
	}

	for i, member := range part {
		resp, ok := responses[fmt.Sprintf("%d", i+1)]
		switch {
		case ok && resp.OK():
			result.Removed++
		case ok:
			result.Failed++
			result.Failures = append(result.Failures, MemberFailure{
				MemberID:   member.ID,
				MemberName: memberName(member),
				Reason:     batchReason(resp),
			})
		default:
			result.Failed++
			result.Failures = append(result.Failures, MemberFailure{
				MemberID:   member.ID,
				MemberName: memberName(member),
				Reason:     "no response in batch",
			})
		}
	}
}

func (m *Mutator) clearSequential(ctx context.Context, groupID string, part []directory.Member, result *ClearResult) {
	for _, member := range part {
		url := m.client.V1("/groups/" + groupID + "/members/" + member.ID + "/$ref")
		err := graph.Retry(ctx, graph.DefaultRetryPolicy(), func() error {
			return m.client.Delete(ctx, url)
		})
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, MemberFailure{
				MemberID:   member.ID,
				MemberName: memberName(member),
				Reason:     err.Error(),
			})
			continue
		}
		result.Removed++
	}
}

func memberName(m directory.Member) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	if m.UserPrincipalName != "" {
		return m.UserPrincipalName
	}
	return "Unknown"
}

func batchReason(r graph.BatchResponse) string {
	var oe struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &oe); err == nil && oe.Error.Message != "" {
		return oe.Error.Message
	}
	return fmt.Sprintf("HTTP %d", r.Status)
}
