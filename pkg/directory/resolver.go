// pkg/directory/resolver.go
package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/entrascope/entrascope/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// Resolution is the outcome of an on-demand group lookup.
type Resolution struct {
	GroupName  string
	Membership MembershipType
	IsDynamic  bool
}

// Resolver answers membership questions for groups that assignment data
// references but the index missed. Paginated membership listings lag
// behind assignment data and are capped at 50 pages, so the index alone
// cannot be trusted for a negative answer. A successful resolution is
// written back into the index so later lookups in the same pass hit it
// directly.
type Resolver struct {
	client   *graph.Client
	session  *Session
	deviceID string
	userID   string
}

func NewResolver(c *graph.Client, session *Session, deviceID, userID string) *Resolver {
	return &Resolver{client: c, session: session, deviceID: deviceID, userID: userID}
}

// Resolve classifies the principal's membership in a group absent from
// the index. A nil Resolution with a nil error means the group exists but
// neither the device nor the user is a member, which is the expected
// majority case when scanning tenant-wide assignment sets. Errors mean
// the group could not be checked; callers treat both as not applicable.
func (r *Resolver) Resolve(ctx context.Context, groupID string, ix *MembershipIndex) (*Resolution, error) {
	if name, mt, ok := ix.Classify(groupID); ok {
		return &Resolution{
			GroupName:  name,
			Membership: mt,
			IsDynamic:  r.session.IsDynamic(groupID),
		}, nil
	}

	var meta memberGroup
	url := r.client.Beta("/groups/" + groupID + "?$select=id,displayName,groupTypes")
	if err := r.client.GetJSON(ctx, url, &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch group %s: %w", groupID, err)
	}
	if meta.DisplayName == "" {
		return nil, fmt.Errorf("group %s has no display name", groupID)
	}

	var deviceMember, userMember membership
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deviceMember, err = r.checkMembership(gctx, "devices", r.deviceID, groupID)
		return err
	})
	if r.userID != "" {
		g.Go(func() error {
			var err error
			userMember, err = r.checkMembership(gctx, "users", r.userID, groupID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !deviceMember.direct && !deviceMember.transitive &&
		!userMember.direct && !userMember.transitive {
		slog.Debug("group not applicable to principal", "group", meta.DisplayName, "groupID", groupID)
		return nil, nil
	}

	mt := MembershipTransitive
	if deviceMember.direct || userMember.direct {
		mt = MembershipDirect
	}

	if mt == MembershipDirect {
		ix.addDirect(groupID, meta.DisplayName)
	} else {
		ix.addTransitive(groupID, meta.DisplayName)
	}
	if meta.isDynamic() {
		r.session.MarkDynamic(groupID)
	}

	slog.Debug("resolved missing group", "group", meta.DisplayName, "groupID", groupID, "membership", mt)
	return &Resolution{GroupName: meta.DisplayName, Membership: mt, IsDynamic: meta.isDynamic()}, nil
}

type membership struct {
	direct     bool
	transitive bool
}

// checkMembership runs targeted filtered lookups against memberOf and
// transitiveMemberOf. The transitive check is skipped when the direct one
// already matched.
func (r *Resolver) checkMembership(ctx context.Context, collection, objectID, groupID string) (membership, error) {
	var m membership
	filter := graph.EscapeQuery(fmt.Sprintf("id eq '%s'", groupID))
	base := r.client.Beta(fmt.Sprintf("/%s/%s", collection, objectID))

	var page struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := r.client.GetJSON(ctx, base+"/memberOf?$filter="+filter+"&$select=id", &page, graph.ConsistencyEventual); err != nil {
		return m, fmt.Errorf("direct membership check failed: %w", err)
	}
	m.direct = len(page.Value) > 0
	if m.direct {
		return m, nil
	}

	page.Value = nil
	if err := r.client.GetJSON(ctx, base+"/transitiveMemberOf?$filter="+filter+"&$select=id", &page, graph.ConsistencyEventual); err != nil {
		return m, fmt.Errorf("transitive membership check failed: %w", err)
	}
	m.transitive = len(page.Value) > 0
	return m, nil
}
