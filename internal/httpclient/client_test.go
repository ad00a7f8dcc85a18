package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAuthorization(t *testing.T, client *http.Client) string {
	t.Helper()

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	return got
}

func TestNewAuthClient_StaticToken(t *testing.T) {
	client := NewAuthClient(AuthConfig{Token: "abc123"}, 5*time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)
	assert.Equal(t, "Token abc123", captureAuthorization(t, client))
}

func TestNewAuthClient_NoCredentials(t *testing.T) {
	client := NewAuthClient(AuthConfig{}, time.Second)
	assert.Empty(t, captureAuthorization(t, client))
}

func TestNewAuthClient_ClientCredentials(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"issued","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	client := NewAuthClient(AuthConfig{
		Token:        "ignored",
		TokenURL:     tokenServer.URL,
		ClientID:     "bugowl",
		ClientSecret: "s3cret",
	}, time.Second)

	assert.Equal(t, "Bearer issued", captureAuthorization(t, client))
}
