// Package record provides the durable record store the engine writes through.
// Records are JSON blobs under type-namespaced keys; backends must support
// get/set/delete plus a cursor-paginated prefix scan.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key does not resolve to a record.
var ErrNotFound = errors.New("record not found")

// Key namespaces. Every entity key is namespaced by type.
const (
	NSSource       = "source:"
	NSEmbed        = "embed:"
	NSUsage        = "usage:"
	NSVersion      = "version:"
	NSVersionIndex = "version-index:"
	NSProgress     = "progress:"
	NSMeta         = "meta:"
)

// SourceKey builds the record key for a Source id.
func SourceKey(id string) string { return NSSource + id }

// EmbedKey builds the record key for an Embed local id.
func EmbedKey(localID string) string { return NSEmbed + localID }

// UsageKey builds the record key for a Source's usage index.
func UsageKey(sourceID string) string { return NSUsage + sourceID }

// VersionKey builds the record key for a version snapshot.
func VersionKey(versionID string) string { return NSVersion + versionID }

// VersionIndexKey builds the record key for an entity's version index.
func VersionIndexKey(entityID string) string { return NSVersionIndex + entityID }

// ProgressKey builds the record key for a job's progress record.
func ProgressKey(jobID string) string { return NSProgress + jobID }

// Store is the durable key-value contract. Scan returns up to limit keys
// matching the prefix plus a continuation cursor; an empty cursor means the
// scan is complete.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix, cursor string, limit int) (keys []string, next string, err error)
}

// GetJSON reads a record and unmarshals it into out.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode record %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// ScanAll drains a prefix scan into a single key slice.
func ScanAll(ctx context.Context, s Store, prefix string) ([]string, error) {
	var keys []string
	cursor := ""
	for {
		page, next, err := s.Scan(ctx, prefix, cursor, 200)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == "" {
			return keys, nil
		}
		cursor = next
	}
}
