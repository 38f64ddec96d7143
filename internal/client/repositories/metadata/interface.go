// Package metadata is the client's local key/value cache. It holds the
// session material needed to resume without a new handshake, plus invite
// link keys the user has handed out.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns common.ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every pair whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
