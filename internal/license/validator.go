package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flashgate/internal/device"
	"flashgate/internal/token"
)

// Rejection codes carried on invalid results. Stable strings for logging
// and metrics.
const (
	CodeInvalidFormat  = "INVALID_FORMAT"
	CodeUnknownKey     = "UNKNOWN_KEY"
	CodeDeviceMismatch = "DEVICE_MISMATCH"
)

// User-facing rejection messages. Malformed and unknown keys stay
// distinguishable: the shipped client already separates them, so unifying
// would change observable behavior without closing the enumeration channel.
const (
	msgInvalidFormat  = "Invalid license key format. Expected: XXXX-XXXX-XXXX-XXXX"
	msgUnknownKey     = "Invalid license key"
	msgDeviceMismatch = "License key is bound to another device"
)

// Result is the outcome of a validation attempt. Rejections are results,
// not errors; the error return of Validate is reserved for store failures.
type Result struct {
	Valid       bool
	Code        string
	Message     string
	AccessToken string
	UseCount    int
}

// Validator checks keys against the provisioned set, enforces first-use
// binding, and issues access tokens.
type Validator struct {
	keys     KeySource
	bindings *Store
	codec    *token.Codec
	logger   *slog.Logger

	now func() time.Time
}

func NewValidator(keys KeySource, bindings *Store, codec *token.Codec, logger *slog.Logger) *Validator {
	return &Validator{
		keys:     keys,
		bindings: bindings,
		codec:    codec,
		logger:   logger.With(slog.String("component", "license_validator")),
		now:      time.Now,
	}
}

// Validate normalizes rawKey and runs the binding protocol: format check,
// provisioning check, then first-use bind / same-device increment /
// cross-device reject. A rejection mutates no state and issues no token.
func (v *Validator) Validate(ctx context.Context, rawKey string, id device.Identity) (Result, error) {
	key := NormalizeKey(rawKey)

	if !ValidKeyFormat(key) {
		v.logger.InfoContext(ctx, "license rejected",
			slog.String("code", CodeInvalidFormat),
			slog.String("device_id", id.String()))
		return Result{Code: CodeInvalidFormat, Message: msgInvalidFormat}, nil
	}

	provisioned, err := v.keys.IsProvisioned(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("provisioning lookup: %w", err)
	}
	if !provisioned {
		v.logger.InfoContext(ctx, "license rejected",
			slog.String("code", CodeUnknownKey),
			slog.String("device_id", id.String()))
		return Result{Code: CodeUnknownKey, Message: msgUnknownKey}, nil
	}

	binding, err := v.bindings.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}

	deviceID := id.String()
	now := v.now()

	if binding == nil {
		// First use: create the binding. Two devices racing for the same
		// never-bound key is last-write-wins by design.
		binding = &Binding{MAC: deviceID, FirstUsed: now, LastUsed: now, UseCount: 1}
		if err := v.bindings.Put(ctx, key, binding); err != nil {
			return Result{}, err
		}
		v.logger.InfoContext(ctx, "license activated",
			slog.String("device_id", deviceID))
		return Result{
			Valid:       true,
			Message:     "License activated",
			AccessToken: v.codec.Issue(key, id),
			UseCount:    1,
		}, nil
	}

	if binding.MAC != deviceID {
		v.logger.WarnContext(ctx, "license rejected",
			slog.String("code", CodeDeviceMismatch),
			slog.String("device_id", deviceID),
			slog.String("bound_device_id", binding.MAC))
		return Result{Code: CodeDeviceMismatch, Message: msgDeviceMismatch}, nil
	}

	binding.UseCount++
	binding.LastUsed = now
	if err := v.bindings.Put(ctx, key, binding); err != nil {
		return Result{}, err
	}
	v.logger.InfoContext(ctx, "license validated",
		slog.String("device_id", deviceID),
		slog.Int("use_count", binding.UseCount))
	return Result{
		Valid:       true,
		Message:     fmt.Sprintf("License valid (Use #%d)", binding.UseCount),
		AccessToken: v.codec.Issue(key, id),
		UseCount:    binding.UseCount,
	}, nil
}

// IsUnlimited reports whether key (already normalized or raw) belongs to
// the distinguished unlimited-download set.
func (v *Validator) IsUnlimited(ctx context.Context, key string) (bool, error) {
	return v.keys.IsUnlimited(ctx, NormalizeKey(key))
}
