package models

import (
	"time"

	"github.com/contentforge/core/internal/modules/document"
)

// RedlineStatus is the review state of an Embed.
type RedlineStatus string

const (
	RedlineReviewable    RedlineStatus = "reviewable"
	RedlinePreApproved   RedlineStatus = "pre-approved"
	RedlineNeedsRevision RedlineStatus = "needs-revision"
	RedlineApproved      RedlineStatus = "approved"
)

// TextInsertion is a free-text block inserted after the paragraph with the
// given 1-based ordinal.
type TextInsertion struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// StatusChange is one append-only entry of an Embed's review history.
type StatusChange struct {
	Status         RedlineStatus `json:"status"`
	PreviousStatus RedlineStatus `json:"previousStatus,omitempty"`
	ChangedBy      string        `json:"changedBy"`
	ChangedAt      time.Time     `json:"changedAt"`
	Reason         string        `json:"reason,omitempty"`
}

// Embed is one instantiation of a Source at an insertion point. It owns its
// configuration exclusively and references its Source by id only; the
// reference may dangle when the Source is deleted externally.
type Embed struct {
	LocalID  string `json:"localId"`
	SourceID string `json:"sourceId"`
	PageID   string `json:"pageId"`

	VariableValues   map[string]string `json:"variableValues,omitempty"`
	ToggleStates     map[string]bool   `json:"toggleStates,omitempty"`
	CustomInsertions []TextInsertion   `json:"customInsertions,omitempty"`
	InternalNotes    []TextInsertion   `json:"internalNotes,omitempty"`

	// Staleness bookkeeping: the Source's staleness digest and content at the
	// moment this Embed last synced.
	LastSynced        time.Time      `json:"lastSynced,omitempty"`
	SyncedContentHash string         `json:"syncedContentHash,omitempty"`
	SyncedContent     *document.Node `json:"syncedContent,omitempty"`

	RedlineStatus       RedlineStatus  `json:"redlineStatus,omitempty"`
	ApprovedContentHash string         `json:"approvedContentHash,omitempty"`
	ApprovedBy          string         `json:"approvedBy,omitempty"`
	ApprovedAt          *time.Time     `json:"approvedAt,omitempty"`
	StatusHistory       []StatusChange `json:"statusHistory,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
