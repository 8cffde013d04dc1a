package device

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// FileSeedStore persists the identity seed as a hex string next to the
// client's other state, the same role the browser client gave
// localStorage.
type FileSeedStore struct {
	Path string
}

func (s *FileSeedStore) LoadSeed() ([]byte, bool, error) {
	raw, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(seed) < 6 {
		// A corrupt seed file is treated as absent and overwritten.
		return nil, false, nil
	}
	return seed, true, nil
}

func (s *FileSeedStore) SaveSeed(seed []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.Path, []byte(hex.EncodeToString(seed)), 0o600)
}
