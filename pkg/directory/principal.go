// pkg/directory/principal.go
package directory

import (
	"context"
	"fmt"

	"github.com/entrascope/entrascope/pkg/graph"
)

// Kind distinguishes the two principal types assignments can apply to.
type Kind string

const (
	KindDevice Kind = "Device"
	KindUser   Kind = "User"
)

// Principal is the directory object memberships and assignments are
// evaluated for. It lives for one operation and is never persisted.
type Principal struct {
	DirectoryID string
	DisplayName string
	Kind        Kind
}

type managedDevice struct {
	ID                string `json:"id"`
	DeviceName        string `json:"deviceName"`
	AzureADDeviceID   string `json:"azureADDeviceId"`
	UserPrincipalName string `json:"userPrincipalName"`
	OperatingSystem   string `json:"operatingSystem"`
}

type directoryObject struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// ResolvePrincipals derives the Entra device object and, when one is
// associated, the primary user object from an Intune managed device ID.
// The device mapping is mandatory and its absence aborts the operation.
// A missing or placeholder user is normal for shared and userless devices
// and yields a nil user.
func ResolvePrincipals(ctx context.Context, c *graph.Client, mdmDeviceID string) (Principal, *Principal, error) {
	md, err := fetchManagedDevice(ctx, c, mdmDeviceID)
	if err != nil {
		return Principal{}, nil, err
	}

	device, err := resolveDevice(ctx, c, md)
	if err != nil {
		return Principal{}, nil, err
	}

	user, err := resolveUser(ctx, c, md)
	if err != nil {
		return Principal{}, nil, err
	}
	return device, user, nil
}

// ResolvePrincipal derives a single principal, device or user, from an
// Intune managed device ID. Selecting the user of a device with no
// assigned user is an error.
func ResolvePrincipal(ctx context.Context, c *graph.Client, mdmDeviceID string, kind Kind) (Principal, error) {
	md, err := fetchManagedDevice(ctx, c, mdmDeviceID)
	if err != nil {
		return Principal{}, err
	}

	switch kind {
	case KindDevice:
		return resolveDevice(ctx, c, md)
	case KindUser:
		user, err := resolveUser(ctx, c, md)
		if err != nil {
			return Principal{}, err
		}
		if user == nil {
			return Principal{}, fmt.Errorf("no user associated with device %s", mdmDeviceID)
		}
		return *user, nil
	}
	return Principal{}, fmt.Errorf("invalid principal kind %q", kind)
}

func fetchManagedDevice(ctx context.Context, c *graph.Client, mdmDeviceID string) (*managedDevice, error) {
	var md managedDevice
	url := c.Beta(fmt.Sprintf("/deviceManagement/managedDevices('%s')", mdmDeviceID))
	if err := c.GetJSON(ctx, url, &md); err != nil {
		return nil, fmt.Errorf("failed to fetch managed device %s: %w", mdmDeviceID, err)
	}
	return &md, nil
}

func resolveDevice(ctx context.Context, c *graph.Client, md *managedDevice) (Principal, error) {
	if md.AzureADDeviceID == "" {
		return Principal{}, fmt.Errorf("managed device %s has no Entra device ID", md.ID)
	}

	var page struct {
		Value []directoryObject `json:"value"`
	}
	url := c.V1("/devices?$top=100&$filter=" +
		graph.EscapeQuery(fmt.Sprintf("deviceId eq '%s'", md.AzureADDeviceID)))
	if err := c.GetJSON(ctx, url, &page); err != nil {
		return Principal{}, fmt.Errorf("failed to look up device object: %w", err)
	}
	if len(page.Value) == 0 {
		return Principal{}, fmt.Errorf("no directory device matches Entra device ID %s", md.AzureADDeviceID)
	}

	name := page.Value[0].DisplayName
	if name == "" {
		name = "Unknown Device"
	}
	return Principal{DirectoryID: page.Value[0].ID, DisplayName: name, Kind: KindDevice}, nil
}

func resolveUser(ctx context.Context, c *graph.Client, md *managedDevice) (*Principal, error) {
	// Intune reports "Unknown user" for userless devices.
	if md.UserPrincipalName == "" || md.UserPrincipalName == "Unknown user" {
		return nil, nil
	}

	var page struct {
		Value []directoryObject `json:"value"`
	}
	url := c.Beta("/users?$filter=" +
		graph.EscapeQuery(fmt.Sprintf("userPrincipalName eq '%s'", md.UserPrincipalName)))
	if err := c.GetJSON(ctx, url, &page); err != nil {
		return nil, fmt.Errorf("failed to look up user object: %w", err)
	}
	if len(page.Value) == 0 {
		return nil, nil
	}

	name := page.Value[0].DisplayName
	if name == "" {
		name = md.UserPrincipalName
	}
	return &Principal{DirectoryID: page.Value[0].ID, DisplayName: name, Kind: KindUser}, nil
}
