package directory

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIndexHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})
	c, _ := newTestClient(t, mux)

	session := NewSession()
	session.MarkDynamic("g1")
	ix := NewMembershipIndex()
	ix.addDirect("g1", "Cached Group")

	r := NewResolver(c, session, "dev-1", "usr-1")
	res, err := r.Resolve(context.Background(), "g1", ix)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Cached Group", res.GroupName)
	assert.Equal(t, MembershipDirect, res.Membership)
	assert.True(t, res.IsDynamic)
	assert.Zero(t, calls.Load())
}

func TestResolveNotApplicable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/g1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"g1","displayName":"Unrelated Group"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Filtered memberOf and transitiveMemberOf checks come back empty.
		w.Write([]byte(`{"value":[]}`))
	})
	c, _ := newTestClient(t, mux)

	ix := NewMembershipIndex()
	r := NewResolver(c, NewSession(), "dev-1", "usr-1")
	res, err := r.Resolve(context.Background(), "g1", ix)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, ix.Contains("g1"), "not-applicable groups are not written back")
}

func TestResolveTransitiveWritebackAndIdempotence(t *testing.T) {
	var metaCalls, memberCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/g1", func(w http.ResponseWriter, r *http.Request) {
		metaCalls.Add(1)
		w.Write([]byte(`{"id":"g1","displayName":"Nested Group","groupTypes":["DynamicMembership"]}`))
	})
	mux.HandleFunc("/devices/dev-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		memberCalls.Add(1)
		assert.Contains(t, r.URL.RawQuery, "id%20eq%20%27g1%27")
		w.Write([]byte(`{"value":[]}`))
	})
	mux.HandleFunc("/devices/dev-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		memberCalls.Add(1)
		w.Write([]byte(`{"value":[{"id":"g1"}]}`))
	})
	c, _ := newTestClient(t, mux)

	session := NewSession()
	ix := NewMembershipIndex()
	r := NewResolver(c, session, "dev-1", "")

	res, err := r.Resolve(context.Background(), "g1", ix)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Nested Group", res.GroupName)
	assert.Equal(t, MembershipTransitive, res.Membership)
	assert.True(t, res.IsDynamic)
	assert.True(t, session.IsDynamic("g1"))

	// A second resolution answers from the writeback without new requests.
	before := metaCalls.Load() + memberCalls.Load()
	res2, err := r.Resolve(context.Background(), "g1", ix)
	require.NoError(t, err)
	require.NotNil(t, res2)
	assert.Equal(t, res.Membership, res2.Membership)
	assert.Equal(t, before, metaCalls.Load()+memberCalls.Load())
}

func TestResolveDirectShortCircuitsTransitiveCheck(t *testing.T) {
	var transitiveHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/g1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"g1","displayName":"Direct Group"}`))
	})
	mux.HandleFunc("/devices/dev-1/memberOf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"id":"g1"}]}`))
	})
	mux.HandleFunc("/devices/dev-1/transitiveMemberOf", func(w http.ResponseWriter, r *http.Request) {
		transitiveHit = true
		w.Write([]byte(`{"value":[]}`))
	})
	c, _ := newTestClient(t, mux)

	ix := NewMembershipIndex()
	r := NewResolver(c, NewSession(), "dev-1", "")
	res, err := r.Resolve(context.Background(), "g1", ix)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, MembershipDirect, res.Membership)
	assert.False(t, transitiveHit)
}

func TestResolveGroupWithoutNameFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/g1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"g1"}`))
	})
	c, _ := newTestClient(t, mux)

	r := NewResolver(c, NewSession(), "dev-1", "")
	_, err := r.Resolve(context.Background(), "g1", NewMembershipIndex())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "display name"))
}
