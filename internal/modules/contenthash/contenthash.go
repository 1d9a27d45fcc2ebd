// Package contenthash computes the engine's two content digests.
//
// The staleness digest covers a fixed whitelist of Source fields and answers
// "has the Source changed since this Embed last synced". The version digest
// covers everything except timestamp-like fields and answers "is this
// snapshot different from the last one". The two policies omit different
// field sets and must never be conflated: using one for the other produces
// false staleness positives or missed snapshots.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contentforge/core/internal/models"
)

// Keys that identify volatile timestamps but do not follow the "...At"
// naming convention.
var timestampKeyNames = map[string]struct{}{
	"lastSynced": {},
	"timestamp":  {},
	"lastRun":    {},
}

func isTimestampKey(key string) bool {
	if _, ok := timestampKeyNames[key]; ok {
		return true
	}
	return strings.HasSuffix(key, "At") || strings.HasSuffix(key, "_at")
}

// StalenessDigest hashes the Source fields an Embed actually consumes:
// content, name, category, variables, toggles and supplementary links.
// Location and bookkeeping fields deliberately stay out, so moving a template
// to another document never flags every Embed as stale.
func StalenessDigest(src *models.Source) (string, error) {
	if src == nil {
		return "", fmt.Errorf("staleness digest: nil source")
	}
	subset := map[string]interface{}{
		"content":            src.Content,
		"name":               src.Name,
		"category":           src.Category,
		"variables":          src.Variables,
		"toggles":            src.Toggles,
		"supplementaryLinks": src.SupplementaryLinks,
	}
	return digest(subset)
}

// VersionDigest hashes an entity's canonical JSON form with every
// timestamp-like key removed recursively. Two records that differ only in
// timestamps produce the same digest, which is what version deduplication
// relies on.
func VersionDigest(entity interface{}) (string, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return "", fmt.Errorf("version digest: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("version digest: %w", err)
	}
	return digest(stripTimestamps(decoded))
}

func stripTimestamps(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if isTimestampKey(k) {
				continue
			}
			out[k] = stripTimestamps(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = stripTimestamps(item)
		}
		return out
	default:
		return v
	}
}

// digest produces a hex SHA-256 over the canonical JSON encoding. Map keys
// are sorted by encoding/json, so equal values hash equal.
func digest(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
