// pkg/mutate/logs.go
package mutate

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrascope/entrascope/pkg/graph"
)

// Log folder roots the Intune management extension is allowed to read.
var allowedLogPrefixes = []string{
	"%PROGRAMFILES%", "%PROGRAMDATA%", "%PUBLIC%", "%WINDIR%", "%TEMP%", "%TMP%",
}

// ValidateLogFolder checks that a custom log path starts from one of the
// environment roots the collection agent supports.
func ValidateLogFolder(path string) error {
	p := strings.ToUpper(strings.TrimSpace(path))
	if p == "" {
		return fmt.Errorf("empty log folder path")
	}
	for _, prefix := range allowedLogPrefixes {
		if strings.HasPrefix(p, prefix) {
			return nil
		}
	}
	return fmt.Errorf("log folder %q must start with one of %s",
		path, strings.Join(allowedLogPrefixes, ", "))
}

// RequestAppLogs asks the device to collect and upload diagnostic logs
// for an app. The troubleshooting event is addressed by the composite
// device and app ID; the request itself carries the user, device, and
// app triple as its ID.
func RequestAppLogs(ctx context.Context, c *graph.Client, userID, mdmDeviceID, appID string, folders []string) error {
	if userID == "" {
		return fmt.Errorf("log collection requires a device with a primary user")
	}
	if appID == "" {
		return fmt.Errorf("application ID is required")
	}
	if len(folders) == 0 {
		return fmt.Errorf("at least one log folder is required")
	}

	cleaned := make([]string, 0, len(folders))
	for _, folder := range folders {
		folder = strings.TrimSpace(folder)
		if folder == "" {
			continue
		}
		if err := ValidateLogFolder(folder); err != nil {
			return err
		}
		cleaned = append(cleaned, folder)
	}
	if len(cleaned) == 0 {
		return fmt.Errorf("at least one log folder is required")
	}

	body := map[string]any{
		"customLogFolders": cleaned,
		"id":               fmt.Sprintf("%s_%s_%s", userID, mdmDeviceID, appID),
	}
	url := c.Beta(fmt.Sprintf("/users('%s')/mobileAppTroubleshootingEvents('%s_%s')/appLogCollectionRequests",
		userID, mdmDeviceID, appID))
	if err := c.PostJSON(ctx, url, body, nil); err != nil {
		return fmt.Errorf("failed to request log collection: %w", err)
	}
	return nil
}
