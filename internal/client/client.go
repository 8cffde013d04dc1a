package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"flashgate/internal/device"
)

// Lockout policy for failed validation attempts, matching the deployed
// client: 10 failures within the window lock further attempts for 5
// minutes.
const (
	maxAttempts = 10
	lockoutTime = 5 * time.Minute
)

// ErrLockedOut reports that the local attempt guard refused to send
// another validation request.
var ErrLockedOut = errors.New("client: too many failed attempts, locked out")

// ValidateResponse mirrors the server's validate-license payload.
type ValidateResponse struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Download is an obfuscated image plus the key material advertised in the
// response header.
type Download struct {
	Data        []byte
	KeyMaterial string
}

// API talks to the distribution service. It caches the access token from
// the last successful validation for the lifetime of the session only;
// nothing is persisted.
type API struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu          sync.Mutex
	accessToken string
	attempts    int
	lastAttempt time.Time

	now func() time.Time
}

// NewAPI creates a client for the service at baseURL.
func NewAPI(baseURL string, logger *slog.Logger) *API {
	return &API{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With(slog.String("component", "api_client")),
		now:     time.Now,
	}
}

// ValidateLicense submits key for the device identity and caches the
// returned access token on success. Repeated failures trip the local
// lockout before any request is sent.
func (a *API) ValidateLicense(ctx context.Context, key string, id device.Identity) (*ValidateResponse, error) {
	if a.lockedOut() {
		return nil, ErrLockedOut
	}

	body, err := json.Marshal(map[string]string{
		"licenseKey": key,
		"macAddress": id.String(),
	})
	if err != nil {
		return nil, err
	}

	var out ValidateResponse
	if err := a.postJSON(ctx, "/api/validate-license", body, &out); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if out.Valid {
		a.accessToken = out.AccessToken
		a.attempts = 0
	} else {
		a.attempts++
		a.lastAttempt = a.now()
	}
	return &out, nil
}

// DownloadFirmware fetches firmwareID using the session's cached access
// token and unwraps it with the local device identity.
func (a *API) DownloadFirmware(ctx context.Context, firmwareID string, id device.Identity) ([]byte, error) {
	a.mu.Lock()
	tok := a.accessToken
	a.mu.Unlock()
	if tok == "" {
		return nil, errors.New("client: validate a license before downloading")
	}

	body, err := json.Marshal(map[string]string{
		"firmwareId":  firmwareID,
		"accessToken": tok,
		"macAddress":  id.String(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/download-firmware", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	unwrapped := Unwrap(data, id)
	if report := CheckIntegrity(unwrapped, 0, a.logger); !report.OK() {
		// Advisory only; the image still goes to the flashing routine.
		a.logger.Warn("integrity check reported issues",
			slog.String("firmware_id", firmwareID),
			slog.Int("size", report.Size))
	}
	return unwrapped, nil
}

func (a *API) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Validation rejections come back as 200 with valid=false; only
	// transport-level statuses are errors here.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *API) lockedOut() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attempts < maxAttempts {
		return false
	}
	if a.now().Sub(a.lastAttempt) >= lockoutTime {
		a.attempts = 0
		return false
	}
	return true
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return fmt.Errorf("client: server returned %d: %s", resp.StatusCode, payload.Error)
		}
		if payload.Message != "" {
			return fmt.Errorf("client: server returned %d: %s", resp.StatusCode, payload.Message)
		}
	}
	return fmt.Errorf("client: server returned %d", resp.StatusCode)
}
