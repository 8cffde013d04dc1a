package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpstream reports that the origin store was unreachable or denied the
// fetch. Never retried automatically; the failure surfaces to the caller
// after a single bounded attempt.
var ErrUpstream = errors.New("firmware: upstream fetch failed")

// Origin fetches raw artifact bytes by origin path.
type Origin interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// GitHubOrigin fetches artifacts from a private repository through the
// contents API using a server-held token.
type GitHubOrigin struct {
	// Repo is "owner/name".
	Repo  string
	Token string

	// BaseURL overrides the API host in tests. Defaults to the public API.
	BaseURL string

	client *http.Client
}

// NewGitHubOrigin creates an origin with a bounded per-request timeout.
func NewGitHubOrigin(repo, apiToken string, timeout time.Duration) *GitHubOrigin {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitHubOrigin{
		Repo:    repo,
		Token:   apiToken,
		BaseURL: "https://api.github.com",
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *GitHubOrigin) Fetch(ctx context.Context, path string) ([]byte, error) {
	if o.Token == "" {
		return nil, fmt.Errorf("%w: origin token not configured", ErrUpstream)
	}

	url := fmt.Sprintf("%s/repos/%s/contents/%s", o.BaseURL, o.Repo, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.Token)
	req.Header.Set("Accept", "application/vnd.github.v3.raw")
	req.Header.Set("User-Agent", "flashgate")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: origin returned %d", ErrUpstream, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return data, nil
}
