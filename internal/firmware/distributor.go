package firmware

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"flashgate/internal/device"
	"flashgate/internal/kv"
	"flashgate/internal/license"
	"flashgate/internal/ratelimit"
	"flashgate/internal/token"
)

// downloadLogTTL keeps download-event rows for 30 days.
const downloadLogTTL = 30 * 24 * time.Hour

// Result is a prepared firmware response: the obfuscated image plus the
// key material the legitimate client needs to invert the transform.
type Result struct {
	Data []byte
	// KeyMaterial is the compact device id used to derive the XOR key.
	KeyMaterial string
}

// Distributor orchestrates a protected download: token verification, rate
// limiting, origin fetch, personalization and obfuscation. The origin copy
// is never mutated; all transforms happen on the per-response bytes.
type Distributor struct {
	codec   *token.Codec
	keys    license.KeySource
	limiter *ratelimit.DailyLimiter
	catalog *Catalog
	origin  Origin
	store   kv.Store
	logger  *slog.Logger

	now func() time.Time
}

func NewDistributor(
	codec *token.Codec,
	keys license.KeySource,
	limiter *ratelimit.DailyLimiter,
	catalog *Catalog,
	origin Origin,
	store kv.Store,
	logger *slog.Logger,
) *Distributor {
	return &Distributor{
		codec:   codec,
		keys:    keys,
		limiter: limiter,
		catalog: catalog,
		origin:  origin,
		store:   store,
		logger:  logger.With(slog.String("component", "distributor")),
		now:     time.Now,
	}
}

// Download returns the personalized, obfuscated image for firmwareID.
// Error identities map to the response taxonomy: token.ErrTokenInvalid,
// ErrNotFound, ratelimit.ErrLimitReached, ErrUpstream. No origin fetch
// happens on any rejection path.
func (d *Distributor) Download(ctx context.Context, firmwareID, accessToken string, id device.Identity) (*Result, error) {
	claims, err := d.codec.Verify(accessToken, id)
	if err != nil {
		return nil, err
	}

	path, err := d.catalog.Resolve(firmwareID)
	if err != nil {
		return nil, err
	}

	unlimited, err := d.keys.IsUnlimited(ctx, claims.LicenseKey)
	if err != nil {
		return nil, err
	}
	if !unlimited {
		if err := d.limiter.Allow(ctx, id); err != nil {
			return nil, err
		}
	}

	raw, err := d.origin.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}

	image := Personalize(raw, id)
	image = Obfuscate(image, id)

	d.recordDownload(ctx, firmwareID, id, len(image))

	return &Result{Data: image, KeyMaterial: id.Compact()}, nil
}

// recordDownload writes the download-event log row. Best effort: a store
// failure is logged and swallowed.
func (d *Distributor) recordDownload(ctx context.Context, firmwareID string, id device.Identity, size int) {
	now := d.now()
	entry, err := json.Marshal(map[string]any{
		"firmwareId": firmwareID,
		"macAddress": id.String(),
		"timestamp":  now.UTC().Format(time.RFC3339),
		"size":       size,
	})
	if err != nil {
		return
	}
	key := "download:" + strconv.FormatInt(now.UnixMilli(), 10)
	if err := d.store.Put(ctx, key, string(entry), downloadLogTTL); err != nil {
		d.logger.WarnContext(ctx, "download log write failed",
			slog.String("firmware_id", firmwareID),
			slog.String("error", err.Error()))
	}
}
