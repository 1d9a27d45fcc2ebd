package render

import (
	"fmt"
	"strings"

	"github.com/contentforge/core/internal/modules/document"
)

// AttrToggleDisabled marks nodes that sit inside a disabled toggle in ghost
// renders, so review tooling can grey them out instead of hiding them.
const AttrToggleDisabled = "toggleDisabled"

// Ghost renders for change review: variables are substituted, but content in
// disabled toggles is kept and tagged with toggleDisabled=true instead of
// being dropped, so both enabled and disabled material stay visible.
func Ghost(root *document.Node, states map[string]bool, values map[string]string) *document.Node {
	if root == nil {
		return nil
	}
	tp := &togglePass{states: states}
	out := tp.tag(splitMarkers(root.Clone()))
	out = StripToggleMarkers(out)
	return SubstituteVariables(out, values)
}

// tag mirrors filter but marks instead of dropping.
func (tp *togglePass) tag(n *document.Node) *document.Node {
	if n == nil {
		return nil
	}
	if n.IsText() {
		if name, kind := parseMarker(n.Text); kind != markerNone {
			tp.apply(name, kind)
			return n
		}
		if tp.disabled > 0 {
			markDisabled(n)
		}
		return n
	}
	if len(n.Content) == 0 {
		if tp.disabled > 0 {
			markDisabled(n)
		}
		return n
	}
	for _, child := range n.Content {
		tp.tag(child)
	}
	return n
}

func markDisabled(n *document.Node) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]interface{}, 1)
	}
	n.Attrs[AttrToggleDisabled] = true
}

// GhostText flattens a template to plain text with explicit brackets around
// each toggle block and its state, for text-based diffing:
//
//	[toggle extra (off)] More info [/toggle extra]
func GhostText(root *document.Node, states map[string]bool, values map[string]string) string {
	if root == nil {
		return ""
	}
	out := SubstituteVariables(splitMarkers(root.Clone()), values)
	var b strings.Builder
	writeGhostText(out, states, &b)
	return strings.TrimRight(b.String(), "\n")
}

func writeGhostText(n *document.Node, states map[string]bool, b *strings.Builder) {
	if n == nil {
		return
	}
	if n.IsText() {
		if name, kind := parseMarker(n.Text); kind != markerNone {
			switch kind {
			case markerOpen:
				state := "off"
				if states[name] {
					state = "on"
				}
				fmt.Fprintf(b, "[toggle %s (%s)]", name, state)
			case markerClose:
				fmt.Fprintf(b, "[/toggle %s]", name)
			}
			return
		}
		b.WriteString(n.Text)
		return
	}
	if n.Type == document.TypeHardBreak {
		b.WriteString("\n")
		return
	}
	for _, child := range n.Content {
		writeGhostText(child, states, b)
	}
	switch n.Type {
	case document.TypeParagraph, document.TypeHeading, document.TypeCodeBlock, document.TypeRule:
		b.WriteString("\n")
	}
}
