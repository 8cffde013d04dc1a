package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorRender(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/download-firmware", nil)

	require.NoError(t, render.Render(w, r, ErrRateLimited))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.Equal(t, "Daily download limit reached. Try again tomorrow.", body["error"])
}

func TestErrorInterface(t *testing.T) {
	assert.Equal(t, "Firmware not found", ErrFirmwareNotFound.Error())
	assert.Equal(t, http.StatusNotFound, ErrFirmwareNotFound.StatusCode)
}

func TestMissingParameterDetails(t *testing.T) {
	e := MissingParameter("licenseKey")
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Equal(t, "licenseKey", e.Details)
}
