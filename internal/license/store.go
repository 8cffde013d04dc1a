package license

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flashgate/internal/kv"
)

// Binding is the permanent association of one license key to one device
// identity. Created on first successful validation; the mac field is
// immutable thereafter, only the timestamps and counter move. JSON field
// names are part of the stored format.
type Binding struct {
	MAC       string    `json:"mac"`
	FirstUsed time.Time `json:"firstUsed"`
	LastUsed  time.Time `json:"lastUsed"`
	UseCount  int       `json:"useCount"`
}

// Store reads and writes bindings keyed by normalized license key. Writes
// are full-record overwrites; a first-use race between two devices for the
// same never-bound key resolves to whichever write lands last. That race
// is accepted, not remediated.
type Store struct {
	kv kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Get returns the binding for key, or nil when the key has never been
// bound.
func (s *Store) Get(ctx context.Context, key string) (*Binding, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load binding: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var b Binding
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode binding for %s: %w", key, err)
	}
	return &b, nil
}

// Put stores the binding. Bindings never expire and are never deleted by
// this system (no revocation path).
func (s *Store) Put(ctx context.Context, key string, b *Binding) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode binding for %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, string(raw), 0); err != nil {
		return fmt.Errorf("store binding: %w", err)
	}
	return nil
}
