package document

// Paragraph ordinal counting. Both the insertion-point picker and the render
// pipeline must number paragraphs identically, so every consumer goes through
// the single fold below. The counter is threaded through the traversal and
// returned, never closed over.

// CountParagraphs returns the number of paragraph nodes in document order,
// recursing into tables, lists, expands and panels.
func CountParagraphs(n *Node) int {
	return foldParagraphs(n, 0, nil)
}

// VisitParagraphs calls fn for each paragraph in document order with its
// 1-based ordinal.
func VisitParagraphs(n *Node, fn func(p *Node, ordinal int)) int {
	return foldParagraphs(n, 0, fn)
}

// foldParagraphs walks the tree in document order, incrementing the ordinal
// at each paragraph. Returns the updated ordinal so callers can continue
// numbering across siblings. Missing children are treated as no children.
func foldParagraphs(n *Node, ordinal int, fn func(p *Node, ordinal int)) int {
	if n == nil {
		return ordinal
	}
	if n.Type == TypeParagraph {
		ordinal++
		if fn != nil {
			fn(n, ordinal)
		}
		return ordinal
	}
	if !IsContainer(n.Type) {
		return ordinal
	}
	for _, child := range n.Content {
		ordinal = foldParagraphs(child, ordinal, fn)
	}
	return ordinal
}

// MapParagraphSiblings rebuilds the tree, invoking emit after each counted
// paragraph and splicing whatever nodes it returns in as following siblings.
// The ordinal counter is threaded through the fold and returned alongside the
// transformed node.
func MapParagraphSiblings(n *Node, ordinal int, emit func(ordinal int) []*Node) (*Node, int) {
	if n == nil {
		return nil, ordinal
	}
	if n.Type == TypeParagraph {
		return n, ordinal + 1
	}
	if !IsContainer(n.Type) || len(n.Content) == 0 {
		return n, ordinal
	}

	out := *n
	out.Content = make([]*Node, 0, len(n.Content))
	for _, child := range n.Content {
		wasParagraph := child != nil && child.Type == TypeParagraph
		mapped, next := MapParagraphSiblings(child, ordinal, emit)
		out.Content = append(out.Content, mapped)
		if wasParagraph && emit != nil {
			out.Content = append(out.Content, emit(next)...)
		}
		ordinal = next
	}
	return &out, ordinal
}
