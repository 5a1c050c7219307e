package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/graph"
)

const (
	testGroupID  = "11111111-1111-1111-1111-111111111111"
	otherGroupID = "22222222-2222-2222-2222-222222222222"
)

func newTestMutator(t *testing.T, handler http.Handler) (*Mutator, *directory.Session) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	c := graph.NewClient(source, graph.WithBaseURLs(srv.URL, srv.URL))
	session := directory.NewSession()
	return NewMutator(c, session), session
}

func makeMembers(n int) []directory.Member {
	members := make([]directory.Member, n)
	for i := range members {
		members[i] = directory.Member{
			ID:          fmt.Sprintf("m-%d", i),
			DisplayName: fmt.Sprintf("Member %d", i),
		}
	}
	return members
}

func TestClearMembersRefusesDynamicGroupBeforeNetwork(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	m, session := newTestMutator(t, mux)
	session.MarkDynamic(testGroupID)

	_, err := m.ClearMembers(context.Background(), testGroupID, makeMembers(3))
	require.ErrorIs(t, err, ErrDynamicGroup)
	assert.Zero(t, calls.Load())
}

func TestClearMembersRejectsMalformedGroupID(t *testing.T) {
	m, _ := newTestMutator(t, http.NewServeMux())
	_, err := m.ClearMembers(context.Background(), "not-a-guid", makeMembers(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDynamicGroup)
}

func TestClearMembersBatchPartitions(t *testing.T) {
	var batchCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/$batch", func(w http.ResponseWriter, r *http.Request) {
		batchCalls.Add(1)
		var envelope struct {
			Requests []graph.BatchStep `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		require.LessOrEqual(t, len(envelope.Requests), graph.BatchLimit)

		responses := make([]map[string]any, len(envelope.Requests))
		for i, req := range envelope.Requests {
			assert.Equal(t, "DELETE", req.Method)
			if strings.Contains(req.URL, "/m-23/") {
				responses[i] = map[string]any{
					"id":     req.ID,
					"status": 404,
					"body": map[string]any{"error": map[string]any{
						"code":    "Request_ResourceNotFound",
						"message": "member does not exist",
					}},
				}
				continue
			}
			responses[i] = map[string]any{"id": req.ID, "status": 204}
		}
		json.NewEncoder(w).Encode(map[string]any{"responses": responses})
	})
	m, _ := newTestMutator(t, mux)

	members := makeMembers(45)
	result, err := m.ClearMembers(context.Background(), testGroupID, members)
	require.NoError(t, err)

	assert.Equal(t, int64(3), batchCalls.Load(), "45 members split into partitions of 20, 20, 5")
	assert.Equal(t, 45, result.Total)
	assert.Equal(t, 44, result.Removed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, result.Total, result.Removed+result.Failed)
	assert.False(t, result.OK())

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "m-23", result.Failures[0].MemberID)
	assert.Equal(t, "Member 23", result.Failures[0].MemberName)
	assert.Equal(t, "member does not exist", result.Failures[0].Reason)
}

func TestClearMembersSequentialFallback(t *testing.T) {
	var deletes atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/$batch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"InternalServerError","message":"batch down"}}`))
	})
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deletes.Add(1)
		if strings.Contains(r.URL.Path, "/m-2/") {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"denied"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	m, _ := newTestMutator(t, mux)

	result, err := m.ClearMembers(context.Background(), testGroupID, makeMembers(4))
	require.NoError(t, err)

	assert.Equal(t, int64(4), deletes.Load(), "403 is not retried")
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 3, result.Removed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "m-2", result.Failures[0].MemberID)
}

func TestClearMembersSequentialRetriesThrottling(t *testing.T) {
	var attempts atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/$batch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	m, _ := newTestMutator(t, mux)

	result, err := m.ClearMembers(context.Background(), testGroupID, makeMembers(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), attempts.Load())
	assert.Equal(t, 1, result.Removed)
	assert.True(t, result.OK())
}

func TestAddToGroupsPerGroupOutcomes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "/directoryObjects/obj-1")
		if strings.Contains(r.URL.Path, otherGroupID) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"Request_BadRequest","message":"already a member"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	m, _ := newTestMutator(t, mux)

	groups := []directory.GroupRef{
		{ID: testGroupID, DisplayName: "Pilot Devices"},
		{ID: otherGroupID, DisplayName: "Broad Devices"},
	}
	results, err := m.AddToGroups(context.Background(), "obj-1", groups)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Pilot Devices", results[0].GroupName)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err, "one failed group does not abort the rest")
}

func TestAddToGroupsRefusesDynamic(t *testing.T) {
	m, _ := newTestMutator(t, http.NewServeMux())
	_, err := m.AddToGroups(context.Background(), "obj-1", []directory.GroupRef{
		{ID: testGroupID, IsDynamic: true},
	})
	require.ErrorIs(t, err, ErrDynamicGroup)
}

func TestRemoveFromGroups(t *testing.T) {
	var path string
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	m, _ := newTestMutator(t, mux)

	results, err := m.RemoveFromGroups(context.Background(), "obj-1", []directory.GroupRef{
		{ID: testGroupID, DisplayName: "Pilot Devices"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "/groups/"+testGroupID+"/members/obj-1/$ref", path)
}
