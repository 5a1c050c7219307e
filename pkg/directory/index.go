// pkg/directory/index.go
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrascope/entrascope/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// MembershipType classifies how an assignment target relates to the
// principal.
type MembershipType string

const (
	MembershipDirect     MembershipType = "Direct"
	MembershipTransitive MembershipType = "Transitive"
	MembershipVirtual    MembershipType = "Virtual"
	MembershipNone       MembershipType = "None"
)

// MembershipIndex maps group IDs to display names across three views:
// direct memberships, transitive memberships, and their union. It is
// built fresh per reconciliation pass because memberships can change
// between calls.
type MembershipIndex struct {
	mu         sync.Mutex
	direct     map[string]string
	transitive map[string]string
	all        map[string]string
}

func NewMembershipIndex() *MembershipIndex {
	return &MembershipIndex{
		direct:     make(map[string]string),
		transitive: make(map[string]string),
		all:        make(map[string]string),
	}
}

// Classify looks up a group and reports its display name and membership
// type. Direct membership wins when a group appears in both views. A
// group present only in the union map (resolver writebacks always fill a
// submap, so this is a defensive default) classifies Direct.
func (ix *MembershipIndex) Classify(groupID string) (string, MembershipType, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	name, ok := ix.all[groupID]
	if !ok {
		return "", MembershipNone, false
	}
	if _, ok := ix.direct[groupID]; ok {
		return name, MembershipDirect, true
	}
	if _, ok := ix.transitive[groupID]; ok {
		return name, MembershipTransitive, true
	}
	return name, MembershipDirect, true
}

// Contains reports whether the group is in the union view.
func (ix *MembershipIndex) Contains(groupID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.all[groupID]
	return ok
}

// Len returns the size of the union view.
func (ix *MembershipIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.all)
}

func (ix *MembershipIndex) addDirect(groupID, name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.direct[groupID] = name
	ix.all[groupID] = name
}

func (ix *MembershipIndex) addTransitive(groupID, name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.transitive[groupID] = name
	ix.all[groupID] = name
}

type memberGroup struct {
	ODataType   string   `json:"@odata.type"`
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	GroupTypes  []string `json:"groupTypes"`
}

func (g memberGroup) isGroup() bool {
	return g.ODataType == "#microsoft.graph.group"
}

func (g memberGroup) isDynamic() bool {
	for _, t := range g.GroupTypes {
		if t == "DynamicMembership" {
			return true
		}
	}
	return false
}

const membershipQuery = "?$select=id,displayName,groupTypes&$orderBy=displayName%20asc&$top=999&$count=true"

// BuildIndex fetches direct and transitive group memberships for the
// device and, when present, the user, and merges them into one index.
// The fetches run concurrently; each degrades to a partial listing on
// request failure per the pager contract. Non-group directory objects
// (roles, administrative units) are discarded. Dynamic groups are
// registered on the session as a side effect.
func BuildIndex(ctx context.Context, c *graph.Client, session *Session, deviceID string, userID string) (*MembershipIndex, error) {
	ix := NewMembershipIndex()

	type fetch struct {
		url    string
		direct bool
	}
	fetches := []fetch{
		{c.Beta("/devices/" + deviceID + "/memberOf" + membershipQuery), true},
		{c.Beta("/devices/" + deviceID + "/transitiveMemberOf" + membershipQuery), false},
	}
	if userID != "" {
		fetches = append(fetches,
			fetch{c.Beta("/users/" + userID + "/memberOf" + membershipQuery), true},
			fetch{c.Beta("/users/" + userID + "/transitiveMemberOf" + membershipQuery), false},
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range fetches {
		g.Go(func() error {
			groups, _, err := graph.FetchAllPages[memberGroup](ctx, c, f.url, graph.ConsistencyEventual)
			if err != nil {
				return fmt.Errorf("failed to fetch memberships: %w", err)
			}
			for _, grp := range groups {
				if !grp.isGroup() {
					continue
				}
				if f.direct {
					ix.addDirect(grp.ID, grp.DisplayName)
				} else {
					ix.addTransitive(grp.ID, grp.DisplayName)
				}
				if grp.isDynamic() {
					session.MarkDynamic(grp.ID)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ix, nil
}
