// Package cache holds the read-side cache used by the order and catalog
// services. Entries are invalidated explicitly after each committed write.
package cache

import (
	"context"
	"strconv"
)

const (
	NamespaceOrders   = "orders"
	NamespaceProducts = "products"
)

// Cache stores JSON-encoded values under string keys within one namespace.
type Cache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

func IDKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
