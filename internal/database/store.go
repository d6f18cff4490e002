package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"polar-fitness-sync/internal/metrics"
)

// ErrNotFound is returned by Get when no document exists at the path
var ErrNotFound = errors.New("document not found")

// Document is a JSON-compatible document body
type Document map[string]any

// deleteField is the type of DeleteField
type deleteField struct{}

// DeleteField, used as a value in Merge, removes that field
var DeleteField = deleteField{}

// Snapshot is a document read from a collection
type Snapshot struct {
	ID   string
	Path string
	Data Document
}

// Store is a hierarchical document store addressed by slash-separated paths.
// Document paths have an even number of segments, collection paths an odd number.
// Writes are last-write-wins with no locking, except Increment.
type Store interface {
	// Get returns the document at path or ErrNotFound
	Get(ctx context.Context, path string) (Document, error)

	// Set replaces the document at path
	Set(ctx context.Context, path string, doc Document) error

	// Merge deep-merges doc into the document at path, creating it if needed.
	// Nested maps merge key by key. DeleteField values remove keys.
	Merge(ctx context.Context, path string, doc Document) error

	// Increment atomically adds delta to a numeric top-level field, creating
	// the document and field as needed
	Increment(ctx context.Context, path, field string, delta int64) error

	// Delete removes the document at path. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error

	// List returns the documents directly inside collection ordered by ID
	List(ctx context.Context, collection string) ([]Snapshot, error)

	// Query returns documents in collection whose top-level field equals value
	Query(ctx context.Context, collection, field string, value any) ([]Snapshot, error)

	Close() error
}

// Join builds a path from segments
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// splitPath returns the parent collection and document ID of a document path
func splitPath(path string) (collection, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// instrument times a store operation into the store metrics
func instrument(backend, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.StoreOperationErrorsTotal.WithLabelValues(backend, op).Inc()
	}
	return err
}

// deepMerge merges src into dst in place
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if _, ok := value.(deleteField); ok {
			delete(dst, key)
			continue
		}
		srcMap, srcIsMap := asMap(value)
		dstMap, dstIsMap := asMap(dst[key])
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			dst[key] = dstMap
			continue
		}
		if srcIsMap {
			fresh := map[string]any{}
			deepMerge(fresh, srcMap)
			dst[key] = fresh
			continue
		}
		dst[key] = value
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// Int64 reads a numeric field regardless of how the backend decoded it
func Int64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

// Float64 reads a numeric field as float64, reporting whether it was numeric
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// String reads a string field, returning "" for anything else
func String(v any) string {
	s, _ := v.(string)
	return s
}

// Bool reads a boolean field, returning false for anything else
func Bool(v any) bool {
	b, _ := v.(bool)
	return b
}
