package models

import "time"

// UsageRef is one denormalized reference from an Embed back to its Source,
// kept for fast "where is this template used" listings.
type UsageRef struct {
	LocalID        string            `json:"localId"`
	PageID         string            `json:"pageId"`
	VariableValues map[string]string `json:"variableValues,omitempty"`
	ToggleStates   map[string]bool   `json:"toggleStates,omitempty"`
	LastSynced     time.Time         `json:"lastSynced,omitempty"`
}

// UsageIndex is the reverse mapping sourceId -> embeds. It is updated as a
// detached continuation of embed saves, so it is eventually consistent; the
// reconciliation worker repairs drift.
type UsageIndex struct {
	SourceID   string     `json:"sourceId"`
	References []UsageRef `json:"references,omitempty"`
	CachedAt   time.Time  `json:"cachedAt,omitempty"`
}
