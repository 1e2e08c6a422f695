// Package fingerprint keys the interprocedural summary cache and the
// reuse-candidate memo by a stable 64-bit digest of a function's
// canonicalized AST, so re-compiling an unchanged function skips
// re-running its summary pass.
package fingerprint

import (
	"fmt"

	"github.com/minio/highwayhash"
	"lumenc/pkg/ast"
)

var key = []byte("lumenc-fingerprint-key-3141592653")

// Digest hashes the canonical textual form of v. Two structurally equal
// ASTs (per ast.Equal) always produce the same digest.
func Digest(v *ast.Value) (uint64, error) {
	h, err := highwayhash.New64(key)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write([]byte(canonicalize(v))); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// canonicalize renders v the same way regardless of allocation-time
// pointer layout, so the digest is a function only of structure.
func canonicalize(v *ast.Value) string {
	if v == nil {
		return "()"
	}
	return v.String()
}

// Cache maps a function's digest to its already-computed interprocedural
// summary (or reuse memo), stored as an opaque value the caller type-
// asserts back.
type Cache struct {
	entries map[uint64]interface{}
}

func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]interface{})}
}

func (c *Cache) Get(v *ast.Value) (interface{}, bool, error) {
	d, err := Digest(v)
	if err != nil {
		return nil, false, fmt.Errorf("fingerprint: %w", err)
	}
	entry, ok := c.entries[d]
	return entry, ok, nil
}

func (c *Cache) Put(v *ast.Value, entry interface{}) error {
	d, err := Digest(v)
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	c.entries[d] = entry
	return nil
}
