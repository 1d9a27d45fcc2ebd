package render

import (
	"regexp"

	"github.com/contentforge/core/internal/modules/document"
)

// Toggle boundaries are encoded as paired text markers that may sit anywhere
// inside a text run, including spanning run boundaries. Filtering first
// splits runs so each marker occupies its own atomic node, then walks the
// tree once with a stack of active toggles. Markers themselves survive the
// filter pass and are removed by StripToggleMarkers, so an unbalanced pair
// can never leak a marker into output.

var (
	openMarkerRe  = regexp.MustCompile(`^\{\{toggle:([A-Za-z0-9_-]+)\}\}$`)
	closeMarkerRe = regexp.MustCompile(`^\{\{/toggle:([A-Za-z0-9_-]+)\}\}$`)
	anyMarkerRe   = regexp.MustCompile(`\{\{/?toggle:[A-Za-z0-9_-]+\}\}`)
)

type markerKind int

const (
	markerNone markerKind = iota
	markerOpen
	markerClose
)

func parseMarker(text string) (string, markerKind) {
	if m := openMarkerRe.FindStringSubmatch(text); m != nil {
		return m[1], markerOpen
	}
	if m := closeMarkerRe.FindStringSubmatch(text); m != nil {
		return m[1], markerClose
	}
	return "", markerNone
}

// splitMarkers rebuilds the tree so every toggle marker is an atomic text
// node. Formatting marks carry over to every fragment.
func splitMarkers(n *document.Node) *document.Node {
	if n == nil {
		return nil
	}
	if len(n.Content) == 0 {
		return n
	}
	out := make([]*document.Node, 0, len(n.Content))
	for _, child := range n.Content {
		if child != nil && child.IsText() && anyMarkerRe.MatchString(child.Text) {
			out = append(out, splitTextRun(child)...)
			continue
		}
		out = append(out, splitMarkers(child))
	}
	n.Content = out
	return n
}

func splitTextRun(run *document.Node) []*document.Node {
	var parts []*document.Node
	emit := func(text string) {
		if text == "" {
			return
		}
		part := *run
		part.Text = text
		parts = append(parts, &part)
	}

	last := 0
	for _, loc := range anyMarkerRe.FindAllStringIndex(run.Text, -1) {
		emit(run.Text[last:loc[0]])
		emit(run.Text[loc[0]:loc[1]])
		last = loc[1]
	}
	emit(run.Text[last:])
	return parts
}

type togglePass struct {
	states   map[string]bool
	stack    []string
	disabled int
}

func (tp *togglePass) enabled(name string) bool { return tp.states[name] }

func (tp *togglePass) apply(name string, kind markerKind) {
	if kind == markerOpen {
		tp.stack = append(tp.stack, name)
		if !tp.enabled(name) {
			tp.disabled++
		}
		return
	}
	// Close the innermost matching open; a close with no open is ignored.
	for i := len(tp.stack) - 1; i >= 0; i-- {
		if tp.stack[i] == name {
			if !tp.enabled(name) {
				tp.disabled--
			}
			tp.stack = append(tp.stack[:i], tp.stack[i+1:]...)
			return
		}
	}
}

// filter drops content nested inside disabled toggles. The stack threads
// across block boundaries, so a toggle opened in one paragraph and closed in
// another behaves the same as an inline pair.
func (tp *togglePass) filter(n *document.Node) *document.Node {
	if n == nil {
		return nil
	}
	if n.IsText() {
		if name, kind := parseMarker(n.Text); kind != markerNone {
			tp.apply(name, kind)
			return n
		}
		if tp.disabled > 0 {
			return nil
		}
		return n
	}
	if len(n.Content) == 0 {
		if tp.disabled > 0 {
			return nil
		}
		return n
	}

	entryDisabled := tp.disabled > 0
	kept := make([]*document.Node, 0, len(n.Content))
	for _, child := range n.Content {
		if c := tp.filter(child); c != nil {
			kept = append(kept, c)
		}
	}
	n.Content = kept
	if entryDisabled && len(kept) == 0 {
		return nil
	}
	return n
}

// FilterToggles removes content inside disabled toggles. A toggle absent from
// states counts as disabled. Markers remain in the result until
// StripToggleMarkers runs.
func FilterToggles(root *document.Node, states map[string]bool) *document.Node {
	if root == nil {
		return nil
	}
	tp := &togglePass{states: states}
	return tp.filter(splitMarkers(root.Clone()))
}

// StripToggleMarkers removes every toggle marker from the tree, whether or
// not filtering ran and regardless of balance.
func StripToggleMarkers(root *document.Node) *document.Node {
	if root == nil {
		return nil
	}
	return stripMarkers(root.Clone())
}

func stripMarkers(n *document.Node) *document.Node {
	if n == nil {
		return nil
	}
	if n.IsText() {
		if !anyMarkerRe.MatchString(n.Text) {
			return n
		}
		n.Text = anyMarkerRe.ReplaceAllString(n.Text, "")
		if n.Text == "" {
			return nil
		}
		return n
	}
	if len(n.Content) == 0 {
		return n
	}
	kept := make([]*document.Node, 0, len(n.Content))
	for _, child := range n.Content {
		if c := stripMarkers(child); c != nil {
			kept = append(kept, c)
		}
	}
	n.Content = kept
	return n
}

// ToggleNames returns the distinct toggle names found in the tree, in first
// appearance order. The source module derives Source.Toggles with it.
func ToggleNames(root *document.Node) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(n *document.Node)
	walk = func(n *document.Node) {
		if n == nil {
			return
		}
		if n.IsText() {
			for _, m := range anyMarkerRe.FindAllString(n.Text, -1) {
				if name, kind := parseMarker(m); kind == markerOpen && !seen[name] {
					seen[name] = true
					names = append(names, name)
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
