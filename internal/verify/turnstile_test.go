package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "site-secret", req["secret"])
		assert.Equal(t, "challenge-token", req["response"])
		json.NewEncoder(w).Encode(Result{Success: true, ChallengeTS: "2025-06-01T12:00:00Z"})
	}))
	defer server.Close()

	c := NewClient("site-secret", server.URL, time.Second)
	res := c.Verify(context.Background(), "challenge-token")
	assert.True(t, res.Success)
}

func TestVerifyFailsClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := NewClient("site-secret", server.URL, time.Second)
	assert.False(t, c.Verify(context.Background(), "challenge-token").Success)

	// Unreachable endpoint also fails closed.
	down := NewClient("site-secret", "http://127.0.0.1:0", time.Second)
	assert.False(t, down.Verify(context.Background(), "challenge-token").Success)

	// Empty token never reaches the network.
	assert.False(t, c.Verify(context.Background(), "").Success)
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	c := NewClient("", "", time.Second)
	assert.False(t, c.Enabled())
	assert.True(t, c.Verify(context.Background(), "anything").Success)
}
