// Package memory provides client-scoped durable memory: small facts the
// agent remembers about a client across conversation threads.
//
// Items live in a namespaced key-value store partitioned as
// ["memories", clientID]. The store is optional — a nil [Store] is the
// normal, expected condition when no database is configured, and the
// agent runs fully memory-less in that case.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Item is a single remembered fact.
type Item struct {
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"` // RFC 3339
}

// Store is the namespaced put/search contract over the durable store.
// Implementations are shared across client namespaces and must be safe
// for concurrent use.
type Store interface {
	// Search returns up to limit items in the namespace, newest first.
	Search(ctx context.Context, namespace []string, limit int) ([]Item, error)

	// Put writes an item under the given key, overwriting any existing
	// item with the same key.
	Put(ctx context.Context, namespace []string, key string, item Item) error
}

// Namespace returns the store namespace for a client's memories.
func Namespace(clientID string) []string {
	return []string{"memories", clientID}
}

// Key derives the storage key for a memory created at t. Two triggers
// in the same millisecond for the same client produce the same key and
// the later write wins; the write policy accepts this.
func Key(t time.Time) string {
	return fmt.Sprintf("mem_%d", t.UnixMilli())
}

// joinNamespace flattens a namespace for storage in a single column.
func joinNamespace(namespace []string) string {
	return strings.Join(namespace, "/")
}
