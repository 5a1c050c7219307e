// pkg/directory/sdk.go
package directory

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/groups"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
)

// GroupRef is a lightweight handle on a directory group.
type GroupRef struct {
	ID          string
	DisplayName string
	IsDynamic   bool
}

// SDKClient wraps the generated Graph SDK client for the stable v1.0
// directory surface: group search and creation. The reconciliation plane
// stays on the raw client because its endpoints live on beta.
type SDKClient struct {
	client *msgraphsdk.GraphServiceClient
}

func NewSDKClient(cred azcore.TokenCredential) (*SDKClient, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph SDK client: %w", err)
	}
	return &SDKClient{client: client}, nil
}

// SearchGroups finds up to ten groups whose display name matches the
// query, registering any dynamic hits on the session so later mutation
// attempts are refused.
func (s *SDKClient) SearchGroups(ctx context.Context, session *Session, query string) ([]GroupRef, error) {
	headers := abstractions.NewRequestHeaders()
	headers.Add("ConsistencyLevel", "eventual")

	requestConfig := &groups.GroupsRequestBuilderGetRequestConfiguration{
		Headers: headers,
		QueryParameters: &groups.GroupsRequestBuilderGetQueryParameters{
			Search: strPtr(fmt.Sprintf("%q", "displayName:"+query)),
			Select: []string{"id", "displayName", "groupTypes"},
			Top:    int32Ptr(10),
		},
	}

	result, err := s.client.Groups().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to search groups: %w", err)
	}

	var refs []GroupRef
	for _, g := range result.GetValue() {
		ref := GroupRef{
			ID:          stringValue(g.GetId()),
			DisplayName: stringValue(g.GetDisplayName()),
		}
		for _, t := range g.GetGroupTypes() {
			if t == "DynamicMembership" {
				ref.IsDynamic = true
			}
		}
		if ref.IsDynamic {
			session.MarkDynamic(ref.ID)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

var mailNicknameStrip = regexp.MustCompile(`[^a-zA-Z0-9]`)

// CreateGroup creates an assigned security group. The mail nickname is
// derived from the first ten characters of the name with everything
// non-alphanumeric stripped.
func (s *SDKClient) CreateGroup(ctx context.Context, name string) (GroupRef, error) {
	if name == "" {
		return GroupRef{}, fmt.Errorf("group name is required")
	}
	nick := name
	if len(nick) > 10 {
		nick = nick[:10]
	}
	nick = mailNicknameStrip.ReplaceAllString(nick, "")
	if nick == "" {
		nick = "group"
	}

	grp := models.NewGroup()
	grp.SetDisplayName(&name)
	grp.SetMailEnabled(boolPtr(false))
	grp.SetMailNickname(&nick)
	grp.SetSecurityEnabled(boolPtr(true))

	created, err := s.client.Groups().Post(ctx, grp, nil)
	if err != nil {
		return GroupRef{}, fmt.Errorf("failed to create group %q: %w", name, err)
	}
	return GroupRef{
		ID:          stringValue(created.GetId()),
		DisplayName: stringValue(created.GetDisplayName()),
	}, nil
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }

func int32Ptr(i int32) *int32 { return &i }

func boolPtr(b bool) *bool { return &b }
