// pkg/directory/members.go
package directory

import (
	"context"
	"fmt"

	"github.com/entrascope/entrascope/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// Member is one directory object inside a group, direct or nested.
type Member struct {
	ODataType         string `json:"@odata.type"`
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserType          string `json:"userType,omitempty"`
	AppID             string `json:"appId,omitempty"`
	Mail              string `json:"mail,omitempty"`
	OnPremisesSync    *bool  `json:"onPremisesSyncEnabled,omitempty"`
	DeviceID          string `json:"deviceId,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
}

// GroupMembership is the merged direct plus transitive member listing of
// a group, with enough group metadata to refuse mutations on dynamic
// groups.
type GroupMembership struct {
	GroupName      string
	IsDynamic      bool
	MembershipRule string
	Members        []Member
}

type groupDetail struct {
	ID                            string   `json:"id"`
	DisplayName                   string   `json:"displayName"`
	GroupTypes                    []string `json:"groupTypes"`
	MembershipRule                string   `json:"membershipRule"`
	MembershipRuleProcessingState string   `json:"membershipRuleProcessingState"`
}

// @odata.type is always returned and cannot appear in $select.
const memberSelect = "id,displayName,userType,appId,mail,onPremisesSyncEnabled,deviceId,userPrincipalName"

// GroupMembers lists a group's direct and transitive members,
// deduplicated with direct entries first. The beta endpoint is used
// because v1.0 omits service principals from member listings. A failed
// transitive fetch degrades to direct members only.
func GroupMembers(ctx context.Context, c *graph.Client, session *Session, groupID string) (*GroupMembership, error) {
	var detail groupDetail
	infoURL := c.Beta("/groups/" + groupID +
		"?$select=id,displayName,groupTypes,visibility,mailEnabled,securityEnabled,membershipRule,membershipRuleProcessingState")
	if err := c.GetJSON(ctx, infoURL, &detail); err != nil {
		return nil, fmt.Errorf("cannot access group %s: %w", groupID, err)
	}

	membership := &GroupMembership{
		GroupName:      detail.DisplayName,
		MembershipRule: detail.MembershipRule,
	}
	for _, t := range detail.GroupTypes {
		if t == "DynamicMembership" {
			membership.IsDynamic = true
			session.MarkDynamic(groupID)
		}
	}

	query := "?$select=" + memberSelect + "&$top=999&$count=true"
	var direct, transitive []Member
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		direct, _, err = graph.FetchAllPages[Member](gctx, c,
			c.Beta("/groups/"+groupID+"/members"+query), graph.ConsistencyEventual)
		return err
	})
	g.Go(func() error {
		var err error
		transitive, _, err = graph.FetchAllPages[Member](gctx, c,
			c.Beta("/groups/"+groupID+"/transitiveMembers"+query), graph.ConsistencyEventual)
		if err != nil {
			// A group can be listable while its nested expansion is
			// not. Direct members alone are still useful.
			transitive = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}

	seen := make(map[string]bool)
	for _, m := range append(direct, transitive...) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		membership.Members = append(membership.Members, m)
	}
	return membership, nil
}
