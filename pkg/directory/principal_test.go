package directory

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerManagedDevice(t *testing.T, mux *http.ServeMux, upn string) {
	mux.HandleFunc("/deviceManagement/managedDevices('mdm-1')", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"mdm-1","deviceName":"LAPTOP-01","azureADDeviceId":"aad-1","userPrincipalName":"` + upn + `"}`))
	})
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "deviceId%20eq%20%27aad-1%27")
		w.Write([]byte(`{"value":[{"id":"dev-obj-1","displayName":"LAPTOP-01"}]}`))
	})
}

func TestResolvePrincipalsWithUser(t *testing.T) {
	mux := http.NewServeMux()
	registerManagedDevice(t, mux, "jdoe@contoso.com")
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"id":"usr-1","displayName":"Jordan Doe"}]}`))
	})
	c, _ := newTestClient(t, mux)

	device, user, err := ResolvePrincipals(context.Background(), c, "mdm-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-obj-1", device.DirectoryID)
	assert.Equal(t, "LAPTOP-01", device.DisplayName)
	assert.Equal(t, KindDevice, device.Kind)

	require.NotNil(t, user)
	assert.Equal(t, "usr-1", user.DirectoryID)
	assert.Equal(t, "Jordan Doe", user.DisplayName)
	assert.Equal(t, KindUser, user.Kind)
}

func TestResolvePrincipalsUserlessDevice(t *testing.T) {
	var userLookup bool
	mux := http.NewServeMux()
	registerManagedDevice(t, mux, "Unknown user")
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		userLookup = true
	})
	c, _ := newTestClient(t, mux)

	device, user, err := ResolvePrincipals(context.Background(), c, "mdm-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-obj-1", device.DirectoryID)
	assert.Nil(t, user)
	assert.False(t, userLookup, "placeholder UPN must not trigger a user lookup")
}

func TestResolvePrincipalsMissingDirectoryDevice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/deviceManagement/managedDevices('mdm-1')", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"mdm-1","azureADDeviceId":"aad-1"}`))
	})
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	})
	c, _ := newTestClient(t, mux)

	_, _, err := ResolvePrincipals(context.Background(), c, "mdm-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aad-1")
}

func TestResolvePrincipalUserRequired(t *testing.T) {
	mux := http.NewServeMux()
	registerManagedDevice(t, mux, "")
	c, _ := newTestClient(t, mux)

	_, err := ResolvePrincipal(context.Background(), c, "mdm-1", KindUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user associated")
}
