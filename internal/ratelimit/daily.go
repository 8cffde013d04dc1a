// Package ratelimit implements the per-device-per-day download counter.
// Counters live in the key-value store under dl:<device>:<date> with a
// one-day TTL, so a window opens at first write rather than at calendar
// midnight. That drift is an accepted approximation.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"flashgate/internal/device"
	"flashgate/internal/kv"
)

// DefaultDailyCeiling is the number of downloads a non-exempt device gets
// per counter window.
const DefaultDailyCeiling = 20

const counterTTL = 24 * time.Hour

// ErrLimitReached signals the device has used up its daily allowance. It
// clears when the counter's TTL elapses.
var ErrLimitReached = errors.New("ratelimit: daily download limit reached")

// DailyLimiter gates downloads per device identity.
type DailyLimiter struct {
	store   kv.Store
	ceiling int
	logger  *slog.Logger

	now func() time.Time
}

// NewDailyLimiter creates a limiter over store. A non-positive ceiling
// falls back to DefaultDailyCeiling.
func NewDailyLimiter(store kv.Store, ceiling int, logger *slog.Logger) *DailyLimiter {
	if ceiling <= 0 {
		ceiling = DefaultDailyCeiling
	}
	return &DailyLimiter{
		store:   store,
		ceiling: ceiling,
		logger:  logger.With(slog.String("component", "rate_limiter")),
		now:     time.Now,
	}
}

// Allow consumes one download slot for id. Returns ErrLimitReached when
// the counter has hit the ceiling; any other error is a store failure. The
// read-check-write sequence is not atomic across concurrent requests from
// the same device, matching the store's last-write-wins model.
func (l *DailyLimiter) Allow(ctx context.Context, id device.Identity) error {
	key := l.counterKey(id)

	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read download counter: %w", err)
	}
	count := 0
	if ok {
		// A corrupt counter parses as zero and the window restarts.
		count, _ = strconv.Atoi(raw)
	}

	if count >= l.ceiling {
		l.logger.WarnContext(ctx, "daily download limit reached",
			slog.String("device_id", id.String()),
			slog.Int("count", count),
			slog.Int("ceiling", l.ceiling))
		return ErrLimitReached
	}

	if err := l.store.Put(ctx, key, strconv.Itoa(count+1), counterTTL); err != nil {
		return fmt.Errorf("write download counter: %w", err)
	}
	return nil
}

// Remaining reports the unused allowance for id without consuming a slot.
func (l *DailyLimiter) Remaining(ctx context.Context, id device.Identity) (int, error) {
	raw, ok, err := l.store.Get(ctx, l.counterKey(id))
	if err != nil {
		return 0, fmt.Errorf("read download counter: %w", err)
	}
	count := 0
	if ok {
		count, _ = strconv.Atoi(raw)
	}
	if count >= l.ceiling {
		return 0, nil
	}
	return l.ceiling - count, nil
}

func (l *DailyLimiter) counterKey(id device.Identity) string {
	return "dl:" + id.Compact() + ":" + l.now().UTC().Format("2006-01-02")
}
