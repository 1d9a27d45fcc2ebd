package render

import (
	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/document"
)

// InsertCustomText splices free-text paragraphs in after the paragraph whose
// ordinal each insertion targets. Ordinals come from the shared document
// fold, so they agree with the picker that captured the insertion point.
// Insertions targeting an ordinal past the end of the document are dropped;
// several insertions on the same ordinal keep their given order.
func InsertCustomText(root *document.Node, insertions []models.TextInsertion) *document.Node {
	if root == nil || len(insertions) == 0 {
		return root
	}
	byOrdinal := make(map[int][]string, len(insertions))
	for _, ins := range insertions {
		byOrdinal[ins.Position] = append(byOrdinal[ins.Position], ins.Text)
	}

	out, _ := document.MapParagraphSiblings(root.Clone(), 0, func(ordinal int) []*document.Node {
		texts := byOrdinal[ordinal]
		if len(texts) == 0 {
			return nil
		}
		nodes := make([]*document.Node, len(texts))
		for i, text := range texts {
			nodes[i] = document.Paragraph(document.Text(text))
		}
		return nodes
	})
	return out
}
