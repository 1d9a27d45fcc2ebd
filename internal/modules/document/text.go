package document

import "strings"

// PlainText flattens the tree to plain text. Text runs inside a block are
// concatenated as-is; block boundaries become single newlines. Used for
// substring presence checks and text-based diffing.
func PlainText(n *Node) string {
	var b strings.Builder
	writePlainText(n, &b)
	return strings.TrimRight(b.String(), "\n")
}

func writePlainText(n *Node, b *strings.Builder) {
	if n == nil {
		return
	}
	if n.IsText() {
		b.WriteString(n.Text)
		return
	}
	if n.Type == TypeHardBreak {
		b.WriteString("\n")
		return
	}
	for _, child := range n.Content {
		writePlainText(child, b)
	}
	if isBlock(n.Type) {
		b.WriteString("\n")
	}
}

func isBlock(nodeType string) bool {
	switch nodeType {
	case TypeParagraph, TypeHeading, TypeCodeBlock, TypeRule:
		return true
	}
	return false
}
