// Package license implements license key validation and the permanent
// key-to-device binding that gates firmware downloads. Provisioning is a
// pluggable lookup so a static allow-list and a registry-backed key set
// can both satisfy it.
package license

import (
	"context"
	"regexp"
	"strings"

	"flashgate/internal/kv"
)

// Registry key prefixes. Provisioned keys are stored as rows rather than
// in source so a deployment can add keys without a rebuild.
const (
	validKeyPrefix     = "VALIDKEY:"
	unlimitedKeyPrefix = "UNLIMITED:"
)

// keyPattern is the canonical grouped format: 4 groups of 4 alphanumerics,
// hyphen-separated, 19 characters after normalization.
var keyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeKey uppercases, trims and strips interior whitespace from a raw
// license key. It does not check the format.
func NormalizeKey(raw string) string {
	return whitespace.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw)), "")
}

// ValidKeyFormat reports whether a normalized key matches the grouped
// pattern.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// KeySource answers the two provisioning questions: is this key known, and
// is it excused from the daily download limit. Keys passed in are already
// normalized.
type KeySource interface {
	IsProvisioned(ctx context.Context, key string) (bool, error)
	IsUnlimited(ctx context.Context, key string) (bool, error)
}

// StaticKeySource is the in-configuration allow-list variant. Membership
// never changes at runtime.
type StaticKeySource struct {
	keys      map[string]struct{}
	unlimited map[string]struct{}
}

// NewStaticKeySource builds a source from configured key lists. Entries
// are normalized on the way in.
func NewStaticKeySource(keys, unlimited []string) *StaticKeySource {
	s := &StaticKeySource{
		keys:      make(map[string]struct{}, len(keys)),
		unlimited: make(map[string]struct{}, len(unlimited)),
	}
	for _, k := range keys {
		s.keys[NormalizeKey(k)] = struct{}{}
	}
	for _, k := range unlimited {
		normalized := NormalizeKey(k)
		s.unlimited[normalized] = struct{}{}
		// An unlimited key is implicitly provisioned.
		s.keys[normalized] = struct{}{}
	}
	return s
}

func (s *StaticKeySource) IsProvisioned(ctx context.Context, key string) (bool, error) {
	_, ok := s.keys[key]
	return ok, nil
}

func (s *StaticKeySource) IsUnlimited(ctx context.Context, key string) (bool, error) {
	_, ok := s.unlimited[key]
	return ok, nil
}

// RegistryKeySource looks keys up in the KV store under the VALIDKEY: and
// UNLIMITED: prefixes. This is the default provisioning strategy.
type RegistryKeySource struct {
	store kv.Store
}

func NewRegistryKeySource(store kv.Store) *RegistryKeySource {
	return &RegistryKeySource{store: store}
}

func (s *RegistryKeySource) IsProvisioned(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.store.Get(ctx, validKeyPrefix+key)
	return ok, err
}

func (s *RegistryKeySource) IsUnlimited(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.store.Get(ctx, unlimitedKeyPrefix+key)
	return ok, err
}

// Provision registers key (and optionally marks it unlimited). Used by
// deployment tooling and tests; keys are never deleted by this system.
func (s *RegistryKeySource) Provision(ctx context.Context, key string, unlimited bool) error {
	normalized := NormalizeKey(key)
	if err := s.store.Put(ctx, validKeyPrefix+normalized, "1", 0); err != nil {
		return err
	}
	if unlimited {
		return s.store.Put(ctx, unlimitedKeyPrefix+normalized, "1", 0)
	}
	return nil
}
