package render

import (
	"regexp"

	"github.com/contentforge/core/internal/modules/document"
)

// varRe matches {{name}} placeholders. Toggle markers contain a colon and
// never match.
var varRe = regexp.MustCompile(`\{\{([A-Za-z][A-Za-z0-9_-]*)\}\}`)

// SubstituteVariables replaces {{name}} placeholders in text runs. A supplied
// value replaces the placeholder verbatim, keeping the run's marks. An unset
// placeholder stays visible but gains a code mark so it is never silently
// blanked. One run may expand into several; expansions are spliced back into
// the parent's child list.
func SubstituteVariables(root *document.Node, values map[string]string) *document.Node {
	if root == nil {
		return nil
	}
	return substituteNode(root.Clone(), values)
}

func substituteNode(n *document.Node, values map[string]string) *document.Node {
	if n == nil || len(n.Content) == 0 {
		return n
	}
	out := make([]*document.Node, 0, len(n.Content))
	for _, child := range n.Content {
		if child != nil && child.IsText() && varRe.MatchString(child.Text) {
			out = append(out, expandRun(child, values)...)
			continue
		}
		out = append(out, substituteNode(child, values))
	}
	n.Content = out
	return n
}

func expandRun(run *document.Node, values map[string]string) []*document.Node {
	var parts []*document.Node
	resolved := ""

	flush := func() {
		if resolved == "" {
			return
		}
		part := *run
		part.Text = resolved
		parts = append(parts, &part)
		resolved = ""
	}

	last := 0
	for _, loc := range varRe.FindAllStringSubmatchIndex(run.Text, -1) {
		resolved += run.Text[last:loc[0]]
		name := run.Text[loc[2]:loc[3]]
		if value, ok := values[name]; ok {
			resolved += value
		} else {
			flush()
			parts = append(parts, unsetPlaceholder(run, run.Text[loc[0]:loc[1]]))
		}
		last = loc[1]
	}
	resolved += run.Text[last:]
	flush()
	return parts
}

// VariableNames returns the distinct {{name}} placeholders in the tree, in
// first appearance order. Toggle markers are excluded.
func VariableNames(root *document.Node) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(n *document.Node)
	walk = func(n *document.Node) {
		if n == nil {
			return
		}
		if n.IsText() {
			for _, m := range varRe.FindAllStringSubmatch(n.Text, -1) {
				if !seen[m[1]] {
					seen[m[1]] = true
					names = append(names, m[1])
				}
			}
			return
		}
		for _, child := range n.Content {
			walk(child)
		}
	}
	walk(root)
	return names
}

func unsetPlaceholder(run *document.Node, placeholder string) *document.Node {
	part := *run
	part.Text = placeholder
	part.Marks = append([]document.Mark(nil), run.Marks...)
	if !part.HasMark(document.MarkCode) {
		part.Marks = append(part.Marks, document.Mark{Type: document.MarkCode})
	}
	return &part
}
