// Package validate checks Sources and Embeds before they hit the record
// store. Validation failures always refuse the write; the engine never
// persists a record it could not read back.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/contenthash"
	"github.com/contentforge/core/internal/modules/document"
)

// ErrValidation marks every refusal produced by this package.
var ErrValidation = errors.New("validation failed")

// maxTreeIssues caps how many structural problems a single tree walk reports.
const maxTreeIssues = 5

// Issue describes one validation problem.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string { return i.Field + ": " + i.Message }

type result struct {
	issues []Issue
}

func (r *result) add(field, format string, args ...interface{}) {
	r.issues = append(r.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *result) err() error {
	if len(r.issues) == 0 {
		return nil
	}
	msgs := make([]string, len(r.issues))
	for i, issue := range r.issues {
		msgs[i] = issue.String()
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// Source validates a Source record.
func Source(src *models.Source) error {
	r := &result{}
	if src == nil {
		r.add("source", "record is nil")
		return r.err()
	}
	if src.ID == "" {
		r.add("id", "required")
	}
	if src.Name == "" {
		r.add("name", "required")
	}
	if src.SourceDocumentID == "" {
		r.add("sourceDocumentId", "required")
	}
	if src.SourceAnchorID == "" {
		r.add("sourceAnchorId", "required")
	}
	if src.Content == nil && src.LegacyBody == "" {
		r.add("content", "either content or legacyBody must be present")
	}

	seen := make(map[string]bool, len(src.Variables))
	for i, v := range src.Variables {
		if v.Name == "" {
			r.add(fmt.Sprintf("variables[%d].name", i), "required")
			continue
		}
		if seen[v.Name] {
			r.add("variables", "duplicate variable name %q", v.Name)
		}
		seen[v.Name] = true
	}
	for i, tg := range src.Toggles {
		if tg == "" {
			r.add(fmt.Sprintf("toggles[%d]", i), "empty toggle name")
		}
	}

	if src.Content != nil && src.ContentHash != "" {
		computed, err := contenthash.StalenessDigest(src)
		if err != nil {
			r.add("contentHash", "cannot compute digest: %v", err)
		} else if computed != src.ContentHash {
			r.add("contentHash", "declared hash does not match content")
		}
	}

	walkTree(src.Content, "content", r)
	return r.err()
}

// Embed validates an Embed record.
func Embed(emb *models.Embed) error {
	r := &result{}
	if emb == nil {
		r.add("embed", "record is nil")
		return r.err()
	}
	if emb.LocalID == "" {
		r.add("localId", "required")
	}
	if emb.SourceID == "" {
		r.add("sourceId", "required")
	}
	if emb.PageID == "" {
		r.add("pageId", "required")
	}

	checkInsertions(emb.CustomInsertions, "customInsertions", r)
	checkInsertions(emb.InternalNotes, "internalNotes", r)

	for name := range emb.ToggleStates {
		if name == "" {
			r.add("toggleStates", "empty toggle name")
		}
	}

	switch emb.RedlineStatus {
	case "", models.RedlineReviewable, models.RedlinePreApproved,
		models.RedlineNeedsRevision, models.RedlineApproved:
	default:
		r.add("redlineStatus", "unknown status %q", emb.RedlineStatus)
	}
	for i, ch := range emb.StatusHistory {
		if ch.Status == "" {
			r.add(fmt.Sprintf("statusHistory[%d].status", i), "required")
		}
		if ch.ChangedBy == "" {
			r.add(fmt.Sprintf("statusHistory[%d].changedBy", i), "required")
		}
	}

	walkTree(emb.SyncedContent, "syncedContent", r)
	return r.err()
}

func checkInsertions(ins []models.TextInsertion, field string, r *result) {
	for i, ti := range ins {
		if ti.Position < 1 {
			r.add(fmt.Sprintf("%s[%d].position", field, i), "must be a 1-based paragraph ordinal, got %d", ti.Position)
		}
		if ti.Text == "" {
			r.add(fmt.Sprintf("%s[%d].text", field, i), "required")
		}
	}
}

// walkTree reports structural problems in a document tree, capped so one
// mangled import does not flood the result.
func walkTree(root *document.Node, field string, r *result) {
	if root == nil {
		return
	}
	before := len(r.issues)
	var walk func(n *document.Node, path string)
	walk = func(n *document.Node, path string) {
		if len(r.issues)-before >= maxTreeIssues {
			return
		}
		if n == nil {
			r.add(path, "nil node")
			return
		}
		if n.Type == "" {
			r.add(path, "node without type")
			return
		}
		if n.Type == document.TypeText && len(n.Content) > 0 {
			r.add(path, "text node with children")
		}
		for i, child := range n.Content {
			walk(child, fmt.Sprintf("%s.content[%d]", path, i))
		}
	}
	walk(root, field)
	if n := len(r.issues) - before; n >= maxTreeIssues {
		r.add(field, "further structural errors suppressed")
	}
}
