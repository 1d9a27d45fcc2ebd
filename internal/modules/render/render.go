// Package render turns a Source's template tree plus an Embed's configuration
// into a concrete rendered tree. The pipeline applies a fixed pass order:
// toggle filtering, variable substitution, custom-text insertion, annotation
// insertion, structural cleanup. Every pass is a total function over
// well-formed trees; missing children or attrs never panic, the pass simply
// leaves the node alone.
package render

import (
	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/document"
)

// Options is the per-Embed configuration applied to a template tree.
type Options struct {
	ToggleStates     map[string]bool
	VariableValues   map[string]string
	CustomInsertions []models.TextInsertion
	InternalNotes    []models.TextInsertion
}

// Render produces the display tree for one Embed. The input tree is never
// mutated; rendering the same inputs twice yields identical trees.
func Render(tree *document.Node, opts Options) *document.Node {
	if tree == nil {
		return nil
	}
	out := FilterToggles(tree, opts.ToggleStates)
	out = StripToggleMarkers(out)
	out = SubstituteVariables(out, opts.VariableValues)
	out = InsertCustomText(out, opts.CustomInsertions)
	out = InsertAnnotations(out, opts.InternalNotes)
	return Cleanup(out)
}
