package models

import (
	"time"

	"github.com/contentforge/core/internal/modules/document"
)

// SourceVariable declares a named template variable with its default value.
type SourceVariable struct {
	Name         string `json:"name"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

// Source is a reusable content template. Its body lives as an anchored block
// inside an external document; SourceDocumentID/SourceAnchorID record that
// location for orphan detection.
type Source struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category string         `json:"category,omitempty"`
	Content  *document.Node `json:"content,omitempty"`

	Variables []SourceVariable `json:"variables,omitempty"`
	// Toggles is derived from the toggle markers found in Content.
	Toggles []string `json:"toggles,omitempty"`

	// ContentHash is the staleness digest over content, name, category,
	// variables, toggles and supplementary links.
	ContentHash string `json:"contentHash,omitempty"`

	SourceDocumentID string `json:"sourceDocumentId"`
	SourceAnchorID   string `json:"sourceAnchorId"`

	SupplementaryLinks []string `json:"supplementaryLinks,omitempty"`

	// LegacyBody is non-empty while the template is still stored in the
	// legacy markdown format. The reconciliation worker converts it.
	LegacyBody string `json:"legacyBody,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsLegacy reports whether the source still awaits format conversion.
func (s *Source) IsLegacy() bool {
	return s != nil && s.Content == nil && s.LegacyBody != ""
}
