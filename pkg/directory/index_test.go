package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/entrascope/entrascope/pkg/graph"
)

func newTestClient(t *testing.T, handler http.Handler) (*graph.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	return graph.NewClient(source, graph.WithBaseURLs(srv.URL, srv.URL)), srv
}

func writeValue(w http.ResponseWriter, items ...map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"value": items})
}

func groupObject(id, name string, dynamic bool) map[string]any {
	obj := map[string]any{
		"@odata.type": "#microsoft.graph.group",
		"id":          id,
		"displayName": name,
	}
	if dynamic {
		obj["groupTypes"] = []string{"DynamicMembership"}
	}
	return obj
}

func TestClassifyDirectWins(t *testing.T) {
	ix := NewMembershipIndex()
	ix.addTransitive("g1", "Both Views")
	ix.addDirect("g1", "Both Views")
	ix.addTransitive("g2", "Nested Only")

	name, mt, ok := ix.Classify("g1")
	require.True(t, ok)
	assert.Equal(t, "Both Views", name)
	assert.Equal(t, MembershipDirect, mt)

	_, mt, ok = ix.Classify("g2")
	require.True(t, ok)
	assert.Equal(t, MembershipTransitive, mt)

	_, mt, ok = ix.Classify("absent")
	assert.False(t, ok)
	assert.Equal(t, MembershipNone, mt)
}

func TestBuildIndexMergesDeviceAndUserViews(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/dev-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eventual", r.Header.Get("ConsistencyLevel"))
		writeValue(w,
			groupObject("g-direct", "Device Direct", false),
			map[string]any{
				"@odata.type": "#microsoft.graph.directoryRole",
				"id":          "role-1",
				"displayName": "Some Role",
			},
		)
	})
	mux.HandleFunc("/devices/dev-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w,
			groupObject("g-direct", "Device Direct", false),
			groupObject("g-nested", "Device Nested", false),
		)
	})
	mux.HandleFunc("/users/usr-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, groupObject("g-dynamic", "All Sales", true))
	})
	mux.HandleFunc("/users/usr-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, groupObject("g-dynamic", "All Sales", true))
	})
	c, _ := newTestClient(t, mux)

	session := NewSession()
	ix, err := BuildIndex(context.Background(), c, session, "dev-1", "usr-1")
	require.NoError(t, err)

	assert.Equal(t, 3, ix.Len(), "directory roles must not be indexed")

	name, mt, ok := ix.Classify("g-direct")
	require.True(t, ok)
	assert.Equal(t, "Device Direct", name)
	assert.Equal(t, MembershipDirect, mt, "direct wins when present in both views")

	_, mt, ok = ix.Classify("g-nested")
	require.True(t, ok)
	assert.Equal(t, MembershipTransitive, mt)

	assert.True(t, session.IsDynamic("g-dynamic"))
	assert.False(t, session.IsDynamic("g-direct"))
	assert.False(t, ix.Contains("role-1"))
}

func TestBuildIndexDegradesWhenOneFetchFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/dev-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, groupObject("g-direct", "Device Direct", false))
	})
	mux.HandleFunc("/devices/dev-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"InternalServerError","message":"boom"}}`))
	})
	mux.HandleFunc("/users/usr-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, groupObject("g-user", "Sales Team", false))
	})
	mux.HandleFunc("/users/usr-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, groupObject("g-user", "Sales Team", false))
	})
	c, _ := newTestClient(t, mux)

	ix, err := BuildIndex(context.Background(), c, NewSession(), "dev-1", "usr-1")
	require.NoError(t, err, "a failed membership fetch degrades rather than aborting")

	assert.Equal(t, 2, ix.Len())
	name, mt, ok := ix.Classify("g-direct")
	require.True(t, ok)
	assert.Equal(t, "Device Direct", name)
	assert.Equal(t, MembershipDirect, mt)
	assert.True(t, ix.Contains("g-user"))
}

func TestBuildIndexDeviceOnly(t *testing.T) {
	var userHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/dev-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, groupObject("g1", "Only Group", false))
	})
	mux.HandleFunc("/devices/dev-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w)
	})
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		userHit = true
		writeValue(w)
	})
	c, _ := newTestClient(t, mux)

	ix, err := BuildIndex(context.Background(), c, NewSession(), "dev-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	assert.False(t, userHit, "no user lookups without a signed-in user")
}
