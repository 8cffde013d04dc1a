// Package verify wraps the human-verification siteverify endpoint. The
// rest of the system consumes the outcome as an opaque boolean; challenge
// internals stay out of scope.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DefaultEndpoint is the hosted siteverify URL.
const DefaultEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Result carries the verification outcome.
type Result struct {
	Success     bool   `json:"success"`
	ChallengeTS string `json:"challenge_ts,omitempty"`
}

// Client verifies challenge tokens. A nil or unconfigured client treats
// verification as disabled.
type Client struct {
	secret   string
	endpoint string
	http     *http.Client
}

// NewClient creates a verifier. An empty secret disables verification:
// Verify then always succeeds.
func NewClient(secret, endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		secret:   secret,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a secret is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.secret != ""
}

// Verify submits challengeToken for verification. A single bounded
// attempt; every failure mode returns success=false rather than an error,
// failing closed.
func (c *Client) Verify(ctx context.Context, challengeToken string) Result {
	if !c.Enabled() {
		return Result{Success: true}
	}
	if challengeToken == "" {
		return Result{}
	}

	body, err := json.Marshal(map[string]string{
		"secret":   c.secret,
		"response": challengeToken,
	})
	if err != nil {
		return Result{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}
	}
	defer resp.Body.Close()

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}
	}
	return out
}
