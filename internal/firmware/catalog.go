// Package firmware implements the protected artifact distribution path:
// access token verification, daily rate limiting, origin fetch, per-device
// personalization and the device-keyed obfuscation applied before the
// image leaves the server.
package firmware

import (
	"errors"
)

// ErrNotFound reports an unknown firmware id.
var ErrNotFound = errors.New("firmware: not found")

// Catalog maps symbolic firmware ids to paths inside the origin
// repository. The mapping is static configuration; unknown ids are a 404,
// never a fetch.
type Catalog struct {
	paths map[string]string
}

// NewCatalog builds a catalog from the configured id-to-path map.
func NewCatalog(paths map[string]string) *Catalog {
	copied := make(map[string]string, len(paths))
	for id, p := range paths {
		copied[id] = p
	}
	return &Catalog{paths: copied}
}

// Resolve returns the origin path for id.
func (c *Catalog) Resolve(id string) (string, error) {
	p, ok := c.paths[id]
	if !ok {
		return "", ErrNotFound
	}
	return p, nil
}

// IDs lists the known firmware ids.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.paths))
	for id := range c.paths {
		ids = append(ids, id)
	}
	return ids
}
