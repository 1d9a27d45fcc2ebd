// Package legacy converts Source bodies still stored in the old markdown
// format into the document tree. Only the reconciliation worker calls it,
// under a pre-conversion snapshot guard.
package legacy

import (
	"errors"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	"github.com/contentforge/core/internal/modules/document"
)

// ErrEmpty is returned when the legacy body parses to nothing.
var ErrEmpty = errors.New("legacy body is empty")

// Convert parses a legacy markdown body into a document tree. Variable and
// toggle markers pass through as literal text, so derived-field extraction
// keeps working on the converted tree.
func Convert(body string) (*document.Node, error) {
	src := []byte(body)
	root := goldmark.New().Parser().Parse(gtext.NewReader(src))

	doc := document.Doc()
	for c := root.FirstChild(); c != nil; c = c.NextSibling() {
		if n := convertBlock(c, src); n != nil {
			doc.Content = append(doc.Content, n)
		}
	}
	if len(doc.Content) == 0 {
		return nil, ErrEmpty
	}
	return doc, nil
}

func convertBlock(n ast.Node, src []byte) *document.Node {
	switch b := n.(type) {
	case *ast.Heading:
		return &document.Node{
			Type:    document.TypeHeading,
			Attrs:   map[string]interface{}{"level": b.Level},
			Content: convertInlines(b, src, nil),
		}
	case *ast.Paragraph, *ast.TextBlock:
		return &document.Node{
			Type:    document.TypeParagraph,
			Content: convertInlines(n, src, nil),
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return &document.Node{
			Type:    document.TypeCodeBlock,
			Content: []*document.Node{document.Text(blockLines(n, src))},
		}
	case *ast.List:
		listType := document.TypeBulletList
		if b.IsOrdered() {
			listType = document.TypeOrderedList
		}
		out := &document.Node{Type: listType}
		for item := b.FirstChild(); item != nil; item = item.NextSibling() {
			li := &document.Node{Type: document.TypeListItem}
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				if block := convertBlock(c, src); block != nil {
					li.Content = append(li.Content, block)
				}
			}
			out.Content = append(out.Content, li)
		}
		return out
	case *ast.Blockquote:
		out := &document.Node{Type: document.TypeBlockquote}
		for c := b.FirstChild(); c != nil; c = c.NextSibling() {
			if block := convertBlock(c, src); block != nil {
				out.Content = append(out.Content, block)
			}
		}
		return out
	case *ast.ThematicBreak:
		return &document.Node{Type: document.TypeRule}
	default:
		// Unknown block kinds degrade to a plain paragraph rather than being
		// silently dropped.
		text := blockLines(n, src)
		if text == "" {
			return nil
		}
		return document.Paragraph(document.Text(text))
	}
}

func blockLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}

func convertInlines(n ast.Node, src []byte, marks []document.Mark) []*document.Node {
	var out []*document.Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, convertInline(c, src, marks)...)
	}
	return out
}

func convertInline(n ast.Node, src []byte, marks []document.Mark) []*document.Node {
	switch i := n.(type) {
	case *ast.Text:
		text := string(i.Segment.Value(src))
		if i.SoftLineBreak() {
			text += " "
		}
		var nodes []*document.Node
		if text != "" {
			nodes = append(nodes, document.Text(text, marks...))
		}
		if i.HardLineBreak() {
			nodes = append(nodes, &document.Node{Type: document.TypeHardBreak})
		}
		return nodes
	case *ast.String:
		return []*document.Node{document.Text(string(i.Value), marks...)}
	case *ast.Emphasis:
		mark := document.Mark{Type: document.MarkItalic}
		if i.Level >= 2 {
			mark = document.Mark{Type: document.MarkBold}
		}
		return convertInlines(i, src, append(cloneMarks(marks), mark))
	case *ast.CodeSpan:
		text := codeSpanText(i, src)
		if text == "" {
			return nil
		}
		return []*document.Node{document.Text(text,
			append(cloneMarks(marks), document.Mark{Type: document.MarkCode})...)}
	case *ast.Link:
		link := document.Mark{
			Type:  document.MarkLink,
			Attrs: map[string]interface{}{"href": string(i.Destination)},
		}
		return convertInlines(i, src, append(cloneMarks(marks), link))
	case *ast.AutoLink:
		u := string(i.URL(src))
		link := document.Mark{
			Type:  document.MarkLink,
			Attrs: map[string]interface{}{"href": u},
		}
		return []*document.Node{document.Text(u, append(cloneMarks(marks), link)...)}
	default:
		return convertInlines(n, src, marks)
	}
}

func codeSpanText(n *ast.CodeSpan, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return b.String()
}

func cloneMarks(marks []document.Mark) []document.Mark {
	return append([]document.Mark(nil), marks...)
}
