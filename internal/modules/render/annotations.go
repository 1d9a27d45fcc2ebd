package render

import (
	"fmt"
	"sort"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/document"
)

// AttrAnnotationRole tags every node the annotation pass produces, so a
// downstream filter can strip annotations for external audiences.
const AttrAnnotationRole = "annotationRole"

const (
	roleMarker  = "marker"
	roleTrailer = "trailer"
	roleNote    = "note"
)

// InsertAnnotations renders internal notes as footnote-style superscript
// markers inside their target paragraphs plus a collapsible trailer section
// at the end of the document. Numbering follows the sort order of the target
// ordinals, so note 1 always appears before note 2 in reading order.
func InsertAnnotations(root *document.Node, notes []models.TextInsertion) *document.Node {
	if root == nil || len(notes) == 0 {
		return root
	}

	sorted := append([]models.TextInsertion(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	byOrdinal := make(map[int][]int, len(sorted))
	for i, note := range sorted {
		byOrdinal[note.Position] = append(byOrdinal[note.Position], i+1)
	}

	out := root.Clone()
	document.VisitParagraphs(out, func(p *document.Node, ordinal int) {
		for _, num := range byOrdinal[ordinal] {
			p.Content = append(p.Content, annotationMarker(num))
		}
	})

	trailer := &document.Node{
		Type: document.TypeExpand,
		Attrs: map[string]interface{}{
			"title":            "Internal notes",
			AttrAnnotationRole: roleTrailer,
		},
	}
	for i, note := range sorted {
		trailer.Content = append(trailer.Content, &document.Node{
			Type:    document.TypeParagraph,
			Attrs:   map[string]interface{}{AttrAnnotationRole: roleNote},
			Content: []*document.Node{document.Text(fmt.Sprintf("[%d] %s", i+1, note.Text))},
		})
	}
	out.Content = append(out.Content, trailer)
	return out
}

func annotationMarker(num int) *document.Node {
	return &document.Node{
		Type:  document.TypeText,
		Text:  fmt.Sprintf("[%d]", num),
		Attrs: map[string]interface{}{AttrAnnotationRole: roleMarker},
		Marks: []document.Mark{{
			Type:  document.MarkSubSup,
			Attrs: map[string]interface{}{"type": "sup"},
		}},
	}
}

// StripAnnotations removes every node the annotation pass added, identified
// by its annotationRole attribute.
func StripAnnotations(root *document.Node) *document.Node {
	if root == nil {
		return nil
	}
	return stripAnnotated(root.Clone())
}

func stripAnnotated(n *document.Node) *document.Node {
	if n == nil {
		return nil
	}
	if n.Attrs != nil && n.Attrs[AttrAnnotationRole] != nil {
		return nil
	}
	if len(n.Content) == 0 {
		return n
	}
	kept := make([]*document.Node, 0, len(n.Content))
	for _, child := range n.Content {
		if c := stripAnnotated(child); c != nil {
			kept = append(kept, c)
		}
	}
	n.Content = kept
	return n
}
