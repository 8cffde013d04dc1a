package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"flashgate/internal/device"
	"flashgate/internal/firmware"
	"flashgate/internal/kv"
	"flashgate/internal/license"
	"flashgate/internal/ratelimit"
	"flashgate/internal/token"
	"flashgate/internal/verify"
)

const (
	testKey = "ABCD-EFGH-1234-5678"
	testMAC = "AA:BB:CC:DD:EE:FF"
)

type fixture struct {
	license  *LicenseHandler
	firmware *FirmwareHandler
	health   *HealthHandler
	origin   *httptest.Server
	store    *kv.MemoryStore
}

func newFixture(t *testing.T, ceiling int) *fixture {
	t.Helper()
	logger := slog.Default()
	tracer := otel.Tracer("test")
	store := kv.NewMemoryStore()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(append([]byte{0xE9}, []byte("MACBIND:000000000000 image")...))
	}))
	t.Cleanup(origin.Close)

	keys := license.NewStaticKeySource([]string{testKey}, []string{"VIPK-VIPK-VIPK-VIPK"})
	codec := token.NewCodec("secret", token.DefaultTTL)
	validator := license.NewValidator(keys, license.NewStore(store), codec, logger)

	gh := firmware.NewGitHubOrigin("acme/firmware", "gh-token", time.Second)
	gh.BaseURL = origin.URL
	distributor := firmware.NewDistributor(
		codec, keys,
		ratelimit.NewDailyLimiter(store, ceiling, logger),
		firmware.NewCatalog(map[string]string{"demo": "firmware/demo.bin"}),
		gh, store, logger,
	)

	return &fixture{
		license:  NewLicenseHandler(validator, verify.NewClient("", "", 0), nil, tracer, logger),
		firmware: NewFirmwareHandler(distributor, nil, tracer, logger),
		health:   NewHealthHandler(store, logger),
		origin:   origin,
		store:    store,
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func (f *fixture) validate(t *testing.T, key, mac string) ValidateLicenseResponse {
	t.Helper()
	w := postJSON(t, f.license.ValidateLicense, "/api/validate-license",
		map[string]string{"licenseKey": key, "macAddress": mac})
	require.Equal(t, http.StatusOK, w.Code)
	var resp ValidateLicenseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestValidateLicenseActivation(t *testing.T) {
	f := newFixture(t, 20)

	resp := f.validate(t, testKey, testMAC)
	assert.True(t, resp.Valid)
	assert.Equal(t, "License activated", resp.Message)
	assert.NotEmpty(t, resp.AccessToken)

	resp = f.validate(t, testKey, testMAC)
	assert.True(t, resp.Valid)
	assert.Equal(t, "License valid (Use #2)", resp.Message)
}

func TestValidateLicenseRejections(t *testing.T) {
	f := newFixture(t, 20)
	f.validate(t, testKey, testMAC)

	// Bound to another device.
	resp := f.validate(t, testKey, "11:22:33:44:55:66")
	assert.False(t, resp.Valid)
	assert.Equal(t, "License key is bound to another device", resp.Error)
	assert.Empty(t, resp.AccessToken)

	// Unknown key.
	resp = f.validate(t, "ZZZZ-ZZZZ-ZZZZ-0000", testMAC)
	assert.False(t, resp.Valid)
	assert.Equal(t, "Invalid license key", resp.Error)

	// Malformed key.
	resp = f.validate(t, "not-a-key", testMAC)
	assert.False(t, resp.Valid)
	assert.Contains(t, resp.Error, "format")
}

func TestValidateLicenseBadRequests(t *testing.T) {
	f := newFixture(t, 20)

	w := postJSON(t, f.license.ValidateLicense, "/api/validate-license",
		map[string]string{"licenseKey": testKey})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, f.license.ValidateLicense, "/api/validate-license",
		map[string]string{"licenseKey": testKey, "macAddress": "zz:zz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadFirmwareSuccess(t *testing.T) {
	f := newFixture(t, 20)
	tok := f.validate(t, testKey, testMAC).AccessToken

	w := postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware",
		map[string]string{"firmwareId": "demo", "accessToken": tok, "macAddress": testMAC})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="demo.mzfw"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "AABBCCDDEEFF", w.Header().Get("X-Firmware-Key"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	size, err := strconv.Atoi(w.Header().Get("X-Firmware-Size"))
	require.NoError(t, err)
	assert.Equal(t, w.Body.Len(), size)

	// Unwrapping with the advertised key recovers the personalized image.
	id, err := device.Parse(testMAC)
	require.NoError(t, err)
	plain := firmware.Obfuscate(w.Body.Bytes(), id)
	assert.Contains(t, string(plain), "MACBIND:AABBCCDDEEFF")
}

func TestDownloadFirmwareRejections(t *testing.T) {
	f := newFixture(t, 20)
	tok := f.validate(t, testKey, testMAC).AccessToken

	// Forged token.
	w := postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware",
		map[string]string{"firmwareId": "demo", "accessToken": "bogus", "macAddress": testMAC})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Token for another device.
	w = postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware",
		map[string]string{"firmwareId": "demo", "accessToken": tok, "macAddress": "11:22:33:44:55:66"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown firmware ID.
	w = postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware",
		map[string]string{"firmwareId": "nope", "accessToken": tok, "macAddress": testMAC})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FIRMWARE_NOT_FOUND", body["code"])
}

func TestDownloadFirmwareDailyQuota(t *testing.T) {
	f := newFixture(t, 2)
	tok := f.validate(t, testKey, testMAC).AccessToken

	req := map[string]string{"firmwareId": "demo", "accessToken": tok, "macAddress": testMAC}
	for i := 0; i < 2; i++ {
		w := postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware", req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware", req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Daily download limit reached. Try again tomorrow.", body["error"])
}

func TestDownloadFirmwareUpstreamFailure(t *testing.T) {
	f := newFixture(t, 20)
	tok := f.validate(t, testKey, testMAC).AccessToken
	f.origin.Close()

	w := postJSON(t, f.firmware.DownloadFirmware, "/api/download-firmware",
		map[string]string{"firmwareId": "demo", "accessToken": tok, "macAddress": testMAC})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, 20)

	w := httptest.NewRecorder()
	f.health.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	f.health.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerifyTurnstileDisabled(t *testing.T) {
	f := newFixture(t, 20)

	w := postJSON(t, f.license.VerifyTurnstile, "/api/verify-turnstile",
		map[string]string{"token": "anything"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}
