package mutate

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

func TestValidateLogFolder(t *testing.T) {
	valid := []string{
		`%PROGRAMDATA%\Microsoft\IntuneManagementExtension\Logs`,
		`%windir%\Temp`,
		`  %TEMP%\app  `,
	}
	for _, p := range valid {
		assert.NoError(t, ValidateLogFolder(p), p)
	}

	invalid := []string{
		``,
		`C:\Windows\Temp`,
		`\\server\share\logs`,
		`%USERPROFILE%\logs`,
	}
	for _, p := range invalid {
		assert.Error(t, ValidateLogFolder(p), p)
	}
}

func TestRequestAppLogs(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	c := graph.NewClient(source, graph.WithBaseURLs(srv.URL, srv.URL))

	err := RequestAppLogs(context.Background(), c, "usr-1", "mdm-1", "app-1",
		[]string{`%PROGRAMDATA%\App\Logs`, "  "})
	require.NoError(t, err)

	assert.Equal(t, "/users('usr-1')/mobileAppTroubleshootingEvents('mdm-1_app-1')/appLogCollectionRequests", gotPath)
	assert.Equal(t, "usr-1_mdm-1_app-1", gotBody["id"])
	assert.Equal(t, []any{`%PROGRAMDATA%\App\Logs`}, gotBody["customLogFolders"])
}

func TestRequestAppLogsValidation(t *testing.T) {
	c := graph.NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}))

	assert.Error(t, RequestAppLogs(context.Background(), c, "", "mdm-1", "app-1", []string{"%TEMP%"}))
	assert.Error(t, RequestAppLogs(context.Background(), c, "usr-1", "mdm-1", "", []string{"%TEMP%"}))
	assert.Error(t, RequestAppLogs(context.Background(), c, "usr-1", "mdm-1", "app-1", nil))
	assert.Error(t, RequestAppLogs(context.Background(), c, "usr-1", "mdm-1", "app-1", []string{`D:\logs`}))
}
