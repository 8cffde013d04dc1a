// Package http implements the HTTP transport for the distribution
// protocol: license validation, firmware download, human verification
// and health endpoints.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"flashgate/internal/device"
	apierrors "flashgate/internal/errors"
	"flashgate/internal/infrastructure"
	"flashgate/internal/kv"
	"flashgate/internal/license"
	"flashgate/internal/verify"
)

// validate checks request payloads after JSON decoding.
var validate = validator.New()

// LicenseHandler handles license validation requests.
type LicenseHandler struct {
	validator *license.Validator
	verifier  *verify.Client
	metrics   *infrastructure.BusinessMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler. verifier and metrics
// may be nil.
func NewLicenseHandler(v *license.Validator, verifier *verify.Client, metrics *infrastructure.BusinessMetrics, tracer trace.Tracer, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		validator: v,
		verifier:  verifier,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// ValidateLicenseRequest is the validate-license payload.
type ValidateLicenseRequest struct {
	LicenseKey     string `json:"licenseKey" validate:"required"`
	MACAddress     string `json:"macAddress" validate:"required"`
	TurnstileToken string `json:"turnstileToken,omitempty"`
}

// ValidateLicenseResponse is the validate-license response. Rejections
// come back as 200 with valid=false so the client can distinguish a
// business rejection from a transport failure.
type ValidateLicenseResponse struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// ValidateLicense handles POST /api/validate-license.
func (h *LicenseHandler) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license.validate",
		trace.WithAttributes(attribute.String("http.route", "/api/validate-license")))
	defer span.End()
	start := time.Now()

	var req ValidateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.ErrMissingParameter)
		return
	}

	id, err := device.Parse(req.MACAddress)
	if err != nil {
		render.Render(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"INVALID_REQUEST", "Invalid MAC address format", req.MACAddress))
		return
	}

	if h.metrics != nil {
		h.metrics.ValidationAttempts.Add(ctx, 1)
	}

	if h.verifier.Enabled() {
		if !h.verifier.Verify(ctx, req.TurnstileToken).Success {
			h.logger.WarnContext(ctx, "human verification failed",
				slog.String("device_id", id.String()))
			render.Render(w, r, apierrors.ErrVerificationFailed)
			return
		}
	}

	result, err := h.validator.Validate(ctx, req.LicenseKey, id)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "validation failed",
			slog.String("error", err.Error()))
		if errors.Is(err, kv.ErrStoreUnavailable) {
			render.Render(w, r, apierrors.ErrStoreUnavailable)
			return
		}
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}

	span.SetAttributes(
		attribute.Bool("license.valid", result.Valid),
		attribute.String("license.code", result.Code),
		attribute.Int64("request.latency_ms", time.Since(start).Milliseconds()),
	)

	if !result.Valid {
		if h.metrics != nil {
			h.metrics.ValidationRejected.Add(ctx, 1,
				metric.WithAttributes(attribute.String("code", result.Code)))
		}
		render.JSON(w, r, ValidateLicenseResponse{Valid: false, Error: result.Message})
		return
	}

	if h.metrics != nil {
		h.metrics.ValidationSuccess.Add(ctx, 1)
		h.metrics.TokensIssued.Add(ctx, 1)
	}
	render.JSON(w, r, ValidateLicenseResponse{
		Valid:       true,
		Message:     result.Message,
		AccessToken: result.AccessToken,
	})
}

// VerifyTurnstileRequest is the verify-turnstile payload.
type VerifyTurnstileRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyTurnstile handles POST /api/verify-turnstile. It exposes the
// verification outcome to the client before it burns a validation
// attempt.
func (h *LicenseHandler) VerifyTurnstile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VerifyTurnstileRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"MISSING_PARAMETER", "Missing verification token", "token"))
		return
	}

	result := h.verifier.Verify(ctx, req.Token)
	render.JSON(w, r, map[string]any{"success": result.Success})
}
