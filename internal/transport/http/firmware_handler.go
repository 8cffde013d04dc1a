package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"flashgate/internal/device"
	apierrors "flashgate/internal/errors"
	"flashgate/internal/firmware"
	"flashgate/internal/infrastructure"
	"flashgate/internal/kv"
	"flashgate/internal/ratelimit"
	"flashgate/internal/token"
)

// FirmwareHandler serves protected firmware downloads.
type FirmwareHandler struct {
	distributor *firmware.Distributor
	metrics     *infrastructure.BusinessMetrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewFirmwareHandler creates a new firmware handler. metrics may be nil.
func NewFirmwareHandler(d *firmware.Distributor, metrics *infrastructure.BusinessMetrics, tracer trace.Tracer, logger *slog.Logger) *FirmwareHandler {
	return &FirmwareHandler{
		distributor: d,
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger.With(slog.String("handler", "firmware")),
	}
}

// DownloadFirmwareRequest is the download-firmware payload.
type DownloadFirmwareRequest struct {
	FirmwareID  string `json:"firmwareId" validate:"required"`
	AccessToken string `json:"accessToken" validate:"required"`
	MACAddress  string `json:"macAddress" validate:"required"`
}

// DownloadFirmware handles POST /api/download-firmware. The success
// response is the obfuscated image as an octet-stream with the key
// material and size advertised in headers.
func (h *FirmwareHandler) DownloadFirmware(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "firmware.download",
		trace.WithAttributes(attribute.String("http.route", "/api/download-firmware")))
	defer span.End()
	start := time.Now()

	var req DownloadFirmwareRequest
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

	span.SetAttributes(attribute.String("firmware.id", req.FirmwareID))

	result, err := h.distributor.Download(ctx, req.FirmwareID, req.AccessToken, id)
	if err != nil {
		span.RecordError(err)
		h.renderDownloadError(w, r, req.FirmwareID, id, err)
		return
	}

	span.SetAttributes(
		attribute.Int("firmware.size", len(result.Data)),
		attribute.Int64("request.latency_ms", time.Since(start).Milliseconds()),
	)
	if h.metrics != nil {
		h.metrics.DownloadsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("firmware_id", req.FirmwareID)))
		h.metrics.DownloadBytes.Add(ctx, int64(len(result.Data)))
	}

	h.logger.InfoContext(ctx, "firmware served",
		slog.String("firmware_id", req.FirmwareID),
		slog.String("device_id", id.String()),
		slog.Int("size", len(result.Data)))

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", req.FirmwareID+".mzfw"))
	w.Header().Set("X-Firmware-Key", result.KeyMaterial)
	w.Header().Set("X-Firmware-Size", strconv.Itoa(len(result.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

func (h *FirmwareHandler) renderDownloadError(w http.ResponseWriter, r *http.Request, firmwareID string, id device.Identity, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, token.ErrTokenInvalid):
		h.logger.WarnContext(ctx, "download rejected",
			slog.String("reason", "token_invalid"),
			slog.String("device_id", id.String()))
		render.Render(w, r, apierrors.ErrTokenInvalid)
	case errors.Is(err, firmware.ErrNotFound):
		render.Render(w, r, apierrors.ErrFirmwareNotFound)
	case errors.Is(err, ratelimit.ErrLimitReached):
		if h.metrics != nil {
			h.metrics.DownloadsThrottled.Add(ctx, 1)
		}
		h.logger.WarnContext(ctx, "download rejected",
			slog.String("reason", "rate_limited"),
			slog.String("device_id", id.String()))
		render.Render(w, r, apierrors.ErrRateLimited)
	case errors.Is(err, firmware.ErrUpstream):
		h.logger.ErrorContext(ctx, "origin fetch failed",
			slog.String("firmware_id", firmwareID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrUpstream)
	case errors.Is(err, kv.ErrStoreUnavailable):
		render.Render(w, r, apierrors.ErrStoreUnavailable)
	default:
		h.logger.ErrorContext(ctx, "download failed",
			slog.String("firmware_id", firmwareID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternalServer)
	}
}
