package models

import (
	"encoding/json"
	"time"
)

// ChangeType classifies why a version snapshot was taken.
type ChangeType string

const (
	ChangeCreate              ChangeType = "CREATE"
	ChangeUpdate              ChangeType = "UPDATE"
	ChangeDelete              ChangeType = "DELETE"
	ChangeFormatConversion    ChangeType = "FORMAT_CONVERSION"
	ChangeBackupBeforeRestore ChangeType = "BACKUP_BEFORE_RESTORE"
)

// EntityType names the record kinds the version store snapshots.
type EntityType string

const (
	EntitySource EntityType = "source"
	EntityEmbed  EntityType = "embed"
)

// VersionMetadata travels with each snapshot.
type VersionMetadata struct {
	ChangeType ChangeType `json:"changeType"`
	ChangedBy  string     `json:"changedBy,omitempty"`
}

// VersionSnapshot is an immutable pre-mutation copy of an entity. Data is the
// deep copy of the record as it was; ContentHash is the version digest with
// all timestamp-like fields stripped.
type VersionSnapshot struct {
	VersionID   string          `json:"versionId"`
	EntityID    string          `json:"entityId"`
	EntityType  EntityType      `json:"entityType"`
	StorageKey  string          `json:"storageKey"`
	Timestamp   time.Time       `json:"timestamp"`
	ContentHash string          `json:"contentHash"`
	Data        json.RawMessage `json:"data"`
	Metadata    VersionMetadata `json:"metadata"`
}

// VersionSummary is the per-entity index entry for one snapshot.
type VersionSummary struct {
	VersionID   string          `json:"versionId"`
	Timestamp   time.Time       `json:"timestamp"`
	ContentHash string          `json:"contentHash"`
	Metadata    VersionMetadata `json:"metadata"`
}

// VersionIndex lists an entity's snapshots oldest-first.
type VersionIndex struct {
	EntityID string           `json:"entityId"`
	Versions []VersionSummary `json:"versions"`
}
