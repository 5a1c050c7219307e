// pkg/graph/token.go
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
)

// DefaultScope is the delegated scope requested when authenticating with
// azidentity. Application-level scopes are granted per app registration, so
// ./default resolves to whatever the registration was consented for.
const DefaultScope = "https://graph.microsoft.com/.default"

// NewStaticTokenSource wraps a raw bearer token, for example one exported
// from an existing session, as an oauth2.TokenSource. The token is used
// as-is and never refreshed.
func NewStaticTokenSource(raw string) (oauth2.TokenSource, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("empty access token")
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: raw,
		TokenType:   "Bearer",
	}), nil
}

// NewCredentialTokenSource adapts an azcore.TokenCredential, typically
// azidentity.DefaultAzureCredential, into an oauth2.TokenSource scoped to
// Microsoft Graph.
func NewCredentialTokenSource(cred azcore.TokenCredential, scopes ...string) oauth2.TokenSource {
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	return &credentialTokenSource{cred: cred, scopes: scopes}
}

// NewDefaultTokenSource builds a token source from the ambient Azure
// credential chain (environment, managed identity, Azure CLI).
func NewDefaultTokenSource() (oauth2.TokenSource, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Azure credential chain: %w", err)
	}
	return NewCredentialTokenSource(cred), nil
}

type credentialTokenSource struct {
	cred   azcore.TokenCredential
	scopes []string
}

func (s *credentialTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cred.GetToken(context.Background(), policy.TokenRequestOptions{
		Scopes: s.scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Graph token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresOn,
	}, nil
}

// StaticTokenCredential exposes a fixed bearer token through the
// azcore.TokenCredential interface so the Graph SDK client can run against
// a sniffed or externally issued token.
type StaticTokenCredential struct {
	token string
}

func NewStaticTokenCredential(raw string) (*StaticTokenCredential, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("empty access token")
	}
	return &StaticTokenCredential{token: raw}, nil
}

func (c *StaticTokenCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}
