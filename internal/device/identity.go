// Package device derives the stable 6-byte identity that binds licenses,
// access tokens, rate limits and firmware obfuscation to one physical
// device. The preferred source is the factory-programmed hardware address
// read from chip efuse registers; when no device register read succeeds a
// generated pseudo-identity is derived from a locally persisted seed so the
// same host keeps the same identity across sessions.
package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Identity is a 6-byte device identifier, conventionally rendered as six
// colon-separated uppercase hex octets.
type Identity [6]byte

var identityPattern = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)

// ErrInvalidIdentity reports a device id string that is not six hex octets.
var ErrInvalidIdentity = errors.New("device: invalid identity")

// Parse converts "AA:BB:CC:DD:EE:FF" (case-insensitive) into an Identity.
func Parse(s string) (Identity, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if !identityPattern.MatchString(normalized) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	var id Identity
	for i, octet := range strings.Split(normalized, ":") {
		b, err := hex.DecodeString(octet)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
		}
		id[i] = b[0]
	}
	return id, nil
}

// String renders the identity as six colon-separated uppercase octets.
func (id Identity) String() string {
	parts := make([]string, len(id))
	for i, b := range id {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Compact renders the identity without separators, uppercase. This is the
// form embedded in access tokens, rate-limit keys and obfuscation key
// material.
func (id Identity) Compact() string {
	return strings.ReplaceAll(id.String(), ":", "")
}

// IsGenerated reports whether the identity carries the locally-administered
// bit, i.e. it was produced by the fallback generator rather than read from
// hardware.
func (id Identity) IsGenerated() bool {
	return id[0]&0x02 != 0
}

// CompactToColons re-inserts separators into a 12-hex-char compact form.
func CompactToColons(compact string) (string, error) {
	id, err := ParseCompact(compact)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ParseCompact converts "AABBCCDDEEFF" into an Identity.
func ParseCompact(s string) (Identity, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if len(normalized) != 12 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	raw, err := hex.DecodeString(normalized)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	var id Identity
	copy(id[:], raw)
	return id, nil
}

// RegisterReader reads a 32-bit device register over the flashing
// transport. The transport itself lives outside this module.
type RegisterReader interface {
	ReadReg(ctx context.Context, addr uint32) (uint32, error)
}

// registerPair addresses the two efuse words holding the factory MAC for
// one chip family.
type registerPair struct {
	family string
	word0  uint32
	word1  uint32
}

// Known chip families, tried in order. First pair that returns defined
// values wins.
var registerPairs = []registerPair{
	{family: "esp32-s3", word0: 0x60007044, word1: 0x60007048},
	{family: "esp32", word0: 0x3F41A048, word1: 0x3F41A04C},
}

// SeedStore persists the random seed behind generated identities so the
// same browser/device pairing stays stable across sessions.
type SeedStore interface {
	// LoadSeed returns the persisted seed, or ok=false when none exists.
	LoadSeed() (seed []byte, ok bool, err error)
	// SaveSeed persists seed for future sessions.
	SaveSeed(seed []byte) error
}

// Resolver produces the device identity for a connected device.
type Resolver struct {
	reader RegisterReader
	seeds  SeedStore
}

// NewResolver creates a resolver. reader may be nil when no device is
// attached; seeds may be nil to disable persistence (a fresh identity per
// session).
func NewResolver(reader RegisterReader, seeds SeedStore) *Resolver {
	return &Resolver{reader: reader, seeds: seeds}
}

// Resolve returns the device identity. Hardware reads are attempted per
// chip family; any failure falls through to the generated identity, which
// never fails.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	if r.reader != nil {
		for _, pair := range registerPairs {
			id, ok := r.readHardware(ctx, pair)
			if ok {
				return id, nil
			}
		}
	}
	return r.generated()
}

func (r *Resolver) readHardware(ctx context.Context, pair registerPair) (Identity, bool) {
	word0, err := r.reader.ReadReg(ctx, pair.word0)
	if err != nil {
		return Identity{}, false
	}
	word1, err := r.reader.ReadReg(ctx, pair.word1)
	if err != nil {
		return Identity{}, false
	}
	if word0 == 0 && word1 == 0 {
		// An unprogrammed efuse reads as zero; treat as undefined.
		return Identity{}, false
	}
	return Identity{
		byte(word0), byte(word0 >> 8), byte(word0 >> 16), byte(word0 >> 24),
		byte(word1), byte(word1 >> 8),
	}, true
}

// generated derives a 6-byte pseudo-identity from the persisted seed,
// forcing the locally-administered bit so generated ids are visually
// distinguishable from real hardware addresses.
func (r *Resolver) generated() (Identity, error) {
	seed, err := r.loadOrCreateSeed()
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	copy(id[:], seed)
	id[0] |= 0x02
	return id, nil
}

func (r *Resolver) loadOrCreateSeed() ([]byte, error) {
	if r.seeds != nil {
		if seed, ok, err := r.seeds.LoadSeed(); err == nil && ok && len(seed) >= 6 {
			return seed[:6], nil
		}
	}
	seed := make([]byte, 6)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("device: generate seed: %w", err)
	}
	if r.seeds != nil {
		if err := r.seeds.SaveSeed(seed); err != nil {
			// Persistence is best effort; a fresh id next session is the
			// documented degradation.
			return seed, nil
		}
	}
	return seed, nil
}
