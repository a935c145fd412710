package vp

import (
	"context"
	_ "crypto/sha256" // registers digest.Canonical
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Digest returns the sha256 digest of the decompressed content of a
// persisted file.
func (n *Node) Digest(ctx context.Context) (digest.Digest, error) {
	d := digest.Canonical.Digester()
	if _, err := n.ReadTo(ctx, d.Hash()); err != nil {
		return "", err
	}
	return d.Digest(), nil
}

// Digests returns the content digest of every live file keyed by path.
func (c *Container) Digests(ctx context.Context) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest, c.NumberFiles())
	err := c.Walk(func(path string, n *Node) error {
		if n.kind != KindFile {
			return nil
		}
		d, err := n.Digest(ctx)
		if err != nil {
			return fmt.Errorf("digest %s: %w", path, err)
		}
		out[path] = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
