package document

// Node is one node of the rich-document tree shared by Source templates and
// rendered Embeds. The shape mirrors the editor's JSON representation: block
// nodes carry Content, text runs carry Text plus formatting Marks.
type Node struct {
	Type    string                 `json:"type"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Content []*Node                `json:"content,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Marks   []Mark                 `json:"marks,omitempty"`
}

// Mark is a formatting mark applied to a text run.
type Mark struct {
	Type  string                 `json:"type"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// Node type names used across the engine.
const (
	TypeDoc          = "doc"
	TypeParagraph    = "paragraph"
	TypeHeading      = "heading"
	TypeText         = "text"
	TypeTable        = "table"
	TypeTableRow     = "tableRow"
	TypeTableCell    = "tableCell"
	TypeTableHeader  = "tableHeader"
	TypeBulletList   = "bulletList"
	TypeOrderedList  = "orderedList"
	TypeListItem     = "listItem"
	TypeBlockquote   = "blockquote"
	TypeExpand       = "expand"
	TypeNestedExpand = "nestedExpand"
	TypePanel        = "panel"
	TypeHardBreak    = "hardBreak"
	TypeRule         = "rule"
	TypeCodeBlock    = "codeBlock"
)

// Mark type names.
const (
	MarkBold      = "bold"
	MarkItalic    = "italic"
	MarkCode      = "code"
	MarkSubSup    = "subsup"
	MarkUnderline = "underline"
	MarkLink      = "link"
)

// Doc wraps block nodes into a document root.
func Doc(content ...*Node) *Node {
	return &Node{Type: TypeDoc, Content: content}
}

// Paragraph builds a paragraph node.
func Paragraph(content ...*Node) *Node {
	return &Node{Type: TypeParagraph, Content: content}
}

// Text builds a text run with the given marks.
func Text(text string, marks ...Mark) *Node {
	return &Node{Type: TypeText, Text: text, Marks: marks}
}

// IsText reports whether the node is a text run.
func (n *Node) IsText() bool { return n != nil && n.Type == TypeText }

// HasMark reports whether the node carries a mark of the given type.
func (n *Node) HasMark(markType string) bool {
	if n == nil {
		return false
	}
	for _, m := range n.Marks {
		if m.Type == markType {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the node. Mutating the copy never affects the
// original, which lets transformation passes work on snapshots safely.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Text: n.Text}
	if n.Attrs != nil {
		out.Attrs = cloneAnyMap(n.Attrs)
	}
	if n.Marks != nil {
		out.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			out.Marks[i] = Mark{Type: m.Type}
			if m.Attrs != nil {
				out.Marks[i].Attrs = cloneAnyMap(m.Attrs)
			}
		}
	}
	if n.Content != nil {
		out.Content = make([]*Node, 0, len(n.Content))
		for _, child := range n.Content {
			out.Content = append(out.Content, child.Clone())
		}
	}
	return out
}

func cloneAnyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = cloneAnyMap(val)
		case []interface{}:
			items := make([]interface{}, len(val))
			for i, item := range val {
				if m, ok := item.(map[string]interface{}); ok {
					items[i] = cloneAnyMap(m)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

// containerTypes are block nodes whose children participate in paragraph
// ordinal counting.
var containerTypes = map[string]bool{
	TypeDoc:          true,
	TypeTable:        true,
	TypeTableRow:     true,
	TypeTableCell:    true,
	TypeTableHeader:  true,
	TypeBulletList:   true,
	TypeOrderedList:  true,
	TypeListItem:     true,
	TypeBlockquote:   true,
	TypeExpand:       true,
	TypeNestedExpand: true,
	TypePanel:        true,
}

// IsContainer reports whether children of this node are counted when
// numbering paragraphs.
func IsContainer(nodeType string) bool { return containerTypes[nodeType] }
