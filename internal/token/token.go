// Package token implements the stateless access token issued after a
// successful license validation and consumed by the firmware distributor.
// A token is base64("key|device|millis|tag"); validity is recomputed from
// its own contents plus the shared secret, never from server state.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flashgate/internal/device"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 5 * time.Minute

const delimiter = "|"

// ErrTokenInvalid is returned for every verification failure. Malformed
// input, device mismatch, expiry and tag mismatch all collapse into this
// one error so responses never leak which check failed.
var ErrTokenInvalid = errors.New("token: invalid or expired access token")

// Claims are the fields embedded in a token.
type Claims struct {
	LicenseKey string
	// DeviceID is the compact (separator-free, uppercase) device identity.
	DeviceID string
	IssuedAt time.Time
}

// Codec encodes and verifies access tokens. The zero value is not usable;
// construct with NewCodec.
type Codec struct {
	secret string
	ttl    time.Duration

	// strict switches the integrity tag from the legacy additive hash to
	// HMAC-SHA256 over the same fields. Off by default: tokens issued by
	// existing deployments must keep verifying.
	strict bool

	now func() time.Time
}

// NewCodec creates a codec with the given shared secret. A non-positive
// ttl falls back to DefaultTTL.
func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: secret, ttl: ttl, now: time.Now}
}

// NewStrictCodec creates a codec whose integrity tag is an HMAC-SHA256.
// Not wire-compatible with tokens issued by the default codec.
func NewStrictCodec(secret string, ttl time.Duration) *Codec {
	c := NewCodec(secret, ttl)
	c.strict = true
	return c
}

// Issue creates a token binding licenseKey to id at the current time.
func (c *Codec) Issue(licenseKey string, id device.Identity) string {
	return c.issueAt(licenseKey, id, c.now())
}

func (c *Codec) issueAt(licenseKey string, id device.Identity, at time.Time) string {
	compact := id.Compact()
	millis := strconv.FormatInt(at.UnixMilli(), 10)
	payload := licenseKey + delimiter + compact + delimiter + millis
	tag := c.tag(payload)
	return base64.StdEncoding.EncodeToString([]byte(payload + delimiter + tag))
}

// Verify decodes tok and checks it against the caller-supplied device
// identity. Every failure mode returns ErrTokenInvalid; decoding never
// panics out of this function.
func (c *Codec) Verify(tok string, id device.Identity) (Claims, error) {
	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: undecodable", ErrTokenInvalid)
	}

	parts := strings.Split(string(raw), delimiter)
	if len(parts) != 4 {
		return Claims{}, fmt.Errorf("%w: wrong field count", ErrTokenInvalid)
	}
	key, embedded, millisField, tag := parts[0], parts[1], parts[2], parts[3]

	if embedded != id.Compact() {
		return Claims{}, fmt.Errorf("%w: device mismatch", ErrTokenInvalid)
	}

	millis, err := strconv.ParseInt(millisField, 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad timestamp", ErrTokenInvalid)
	}
	issuedAt := time.UnixMilli(millis)
	if c.now().Sub(issuedAt) > c.ttl {
		return Claims{}, fmt.Errorf("%w: expired", ErrTokenInvalid)
	}

	expected := c.tag(key + delimiter + embedded + delimiter + millisField)
	if !hmac.Equal([]byte(tag), []byte(expected)) {
		return Claims{}, fmt.Errorf("%w: tag mismatch", ErrTokenInvalid)
	}

	return Claims{LicenseKey: key, DeviceID: embedded, IssuedAt: issuedAt}, nil
}

// PeekLicenseKey extracts the license key field without verifying the
// token. Diagnostic use only; callers that gate anything on the key must
// go through Verify.
func PeekLicenseKey(tok string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return "", fmt.Errorf("%w: undecodable", ErrTokenInvalid)
	}
	parts := strings.SplitN(string(raw), delimiter, 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("%w: wrong field count", ErrTokenInvalid)
	}
	return parts[0], nil
}

func (c *Codec) tag(payload string) string {
	if c.strict {
		mac := hmac.New(sha256.New, []byte(c.secret))
		mac.Write([]byte(payload))
		return hex.EncodeToString(mac.Sum(nil))
	}
	return additiveHash(payload + c.secret)
}

// additiveHash is the legacy left-shift/subtract accumulation tag: a
// 32-bit rolling hash, absolute value, lowercase hex. Deliberately not a
// MAC; the deterrent-only contract predates this codebase.
func additiveHash(s string) string {
	var h int32
	for _, b := range []byte(s) {
		h = (h << 5) - h + int32(b)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 16)
}
