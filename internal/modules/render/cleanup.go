package render

import (
	"github.com/contentforge/core/internal/modules/document"
)

// emptySurvivors are node types that are meaningful without children or text.
var emptySurvivors = map[string]bool{
	document.TypeHardBreak: true,
	document.TypeRule:      true,
	"emoji":                true,
	"mention":              true,
	"inlineCard":           true,
}

// Cleanup prepares the tree for the output renderer: drops empty text runs
// and paragraphs left behind by filtering, and discards attrs with nil
// values. Node types in the allow-list survive even when empty.
func Cleanup(root *document.Node) *document.Node {
	if root == nil {
		return nil
	}
	return cleanNode(root.Clone())
}

func cleanNode(n *document.Node) *document.Node {
	if n == nil {
		return nil
	}
	scrubAttrs(n)
	if emptySurvivors[n.Type] {
		return n
	}
	if n.IsText() {
		if n.Text == "" {
			return nil
		}
		return n
	}

	kept := make([]*document.Node, 0, len(n.Content))
	for _, child := range n.Content {
		if c := cleanNode(child); c != nil {
			kept = append(kept, c)
		}
	}
	n.Content = kept
	if n.Type == document.TypeParagraph && len(kept) == 0 {
		return nil
	}
	return n
}

func scrubAttrs(n *document.Node) {
	for k, v := range n.Attrs {
		if v == nil {
			delete(n.Attrs, k)
		}
	}
	if len(n.Attrs) == 0 {
		n.Attrs = nil
	}
}
