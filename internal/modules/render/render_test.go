package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/contentforge/core/internal/models"
	"github.com/contentforge/core/internal/modules/document"
)

func greetingTemplate() *document.Node {
	return document.Doc(document.Paragraph(
		document.Text("Hello {{name}}"),
		document.Text("{{toggle:extra}} More info{{/toggle:extra}}"),
	))
}

func treeJSON(t *testing.T, n *document.Node) string {
	t.Helper()
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestRenderToggleDisabledUnsetVariable(t *testing.T) {
	out := Render(greetingTemplate(), Options{})

	text := document.PlainText(out)
	if text != "Hello {{name}}" {
		t.Fatalf("rendered text = %q", text)
	}
	if strings.Contains(treeJSON(t, out), "More info") {
		t.Fatal("disabled toggle content leaked into output")
	}

	// The unset placeholder run carries the code mark.
	var placeholder *document.Node
	for _, run := range out.Content[0].Content {
		if run.Text == "{{name}}" {
			placeholder = run
		}
	}
	if placeholder == nil {
		t.Fatal("placeholder run missing")
	}
	if !placeholder.HasMark(document.MarkCode) {
		t.Fatal("unset placeholder not wrapped in code mark")
	}
}

func TestRenderToggleEnabledVariableSet(t *testing.T) {
	out := Render(greetingTemplate(), Options{
		ToggleStates:   map[string]bool{"extra": true},
		VariableValues: map[string]string{"name": "Ada"},
	})

	if text := document.PlainText(out); text != "Hello Ada More info" {
		t.Fatalf("rendered text = %q", text)
	}
	if strings.Contains(treeJSON(t, out), "{{") {
		t.Fatal("residual marker or placeholder in output")
	}
}

func TestRenderDeterministic(t *testing.T) {
	opts := Options{
		ToggleStates:     map[string]bool{"extra": true},
		VariableValues:   map[string]string{"name": "Ada"},
		CustomInsertions: []models.TextInsertion{{Position: 1, Text: "added"}},
		InternalNotes:    []models.TextInsertion{{Position: 1, Text: "check this"}},
	}
	a := treeJSON(t, Render(greetingTemplate(), opts))
	b := treeJSON(t, Render(greetingTemplate(), opts))
	if a != b {
		t.Fatal("rendering the same inputs twice produced different trees")
	}
}

func TestRenderDoesNotMutateInput(t *testing.T) {
	tmpl := greetingTemplate()
	before := treeJSON(t, tmpl)
	Render(tmpl, Options{
		ToggleStates:   map[string]bool{"extra": true},
		VariableValues: map[string]string{"name": "Ada"},
	})
	if after := treeJSON(t, tmpl); after != before {
		t.Fatal("input template was mutated")
	}
}

func TestToggleRoundTrip(t *testing.T) {
	tmpl := document.Doc(
		document.Paragraph(document.Text("{{toggle:a}}alpha {{toggle:b}}beta{{/toggle:b}}{{/toggle:a}}")),
		document.Paragraph(document.Text("plain")),
	)
	allOn := map[string]bool{"a": true, "b": true}

	filtered := Cleanup(StripToggleMarkers(FilterToggles(tmpl, allOn)))
	unfiltered := Cleanup(StripToggleMarkers(tmpl))
	if document.PlainText(filtered) != document.PlainText(unfiltered) {
		t.Fatalf("all-enabled filtering renders %q, plain stripping renders %q",
			document.PlainText(filtered), document.PlainText(unfiltered))
	}
}

func TestToggleSpansParagraphs(t *testing.T) {
	tmpl := document.Doc(
		document.Paragraph(document.Text("keep {{toggle:x}}drop start")),
		document.Paragraph(document.Text("drop middle")),
		document.Paragraph(document.Text("drop end{{/toggle:x}} keep too")),
	)
	out := Render(tmpl, Options{})
	text := document.PlainText(out)
	if strings.Contains(text, "drop") {
		t.Fatalf("cross-paragraph toggle content leaked: %q", text)
	}
	if !strings.Contains(text, "keep") || !strings.Contains(text, "keep too") {
		t.Fatalf("content outside the toggle was lost: %q", text)
	}
}

func TestUnbalancedMarkersNeverLeak(t *testing.T) {
	tmpl := document.Doc(
		document.Paragraph(document.Text("text {{toggle:open}} enabled tail")),
		document.Paragraph(document.Text("{{/toggle:never-opened}} more")),
	)
	out := Render(tmpl, Options{ToggleStates: map[string]bool{"open": true}})
	if strings.Contains(treeJSON(t, out), "{{") {
		t.Fatal("marker leaked through unbalanced nesting")
	}
}

func TestVariableExpansionPreservesMarks(t *testing.T) {
	tmpl := document.Doc(document.Paragraph(
		document.Text("A {{set}} B {{unset}} C", document.Mark{Type: document.MarkBold}),
	))
	out := Render(tmpl, Options{VariableValues: map[string]string{"set": "X"}})

	runs := out.Content[0].Content
	if len(runs) != 3 {
		t.Fatalf("want 3 runs after expansion, got %d", len(runs))
	}
	if runs[0].Text != "A X B " || !runs[0].HasMark(document.MarkBold) {
		t.Fatalf("resolved run wrong: %q", runs[0].Text)
	}
	if runs[1].Text != "{{unset}}" || !runs[1].HasMark(document.MarkBold) || !runs[1].HasMark(document.MarkCode) {
		t.Fatalf("placeholder run wrong: %+v", runs[1])
	}
	if runs[2].Text != " C" {
		t.Fatalf("tail run wrong: %q", runs[2].Text)
	}
}

func TestCustomInsertionInsideTable(t *testing.T) {
	tmpl := document.Doc(
		document.Paragraph(document.Text("first")),
		&document.Node{Type: document.TypeTable, Content: []*document.Node{
			{Type: document.TypeTableRow, Content: []*document.Node{
				{Type: document.TypeTableCell, Content: []*document.Node{
					document.Paragraph(document.Text("second")),
				}},
			}},
		}},
	)
	out := Render(tmpl, Options{
		CustomInsertions: []models.TextInsertion{{Position: 2, Text: "inserted"}},
	})

	cell := out.Content[1].Content[0].Content[0]
	if len(cell.Content) != 2 || document.PlainText(cell.Content[1]) != "inserted" {
		t.Fatalf("insertion not spliced after paragraph 2: %s", treeJSON(t, cell))
	}
}

func TestAnnotations(t *testing.T) {
	tmpl := document.Doc(
		document.Paragraph(document.Text("first")),
		document.Paragraph(document.Text("second")),
	)
	out := Render(tmpl, Options{
		InternalNotes: []models.TextInsertion{
			{Position: 2, Text: "late note"},
			{Position: 1, Text: "early note"},
		},
	})

	// Numbering follows ordinal order, not input order.
	p1 := out.Content[0]
	marker := p1.Content[len(p1.Content)-1]
	if marker.Text != "[1]" || marker.Attrs[AttrAnnotationRole] != roleMarker {
		t.Fatalf("first paragraph marker wrong: %+v", marker)
	}
	if !marker.HasMark(document.MarkSubSup) {
		t.Fatal("marker missing superscript mark")
	}

	trailer := out.Content[len(out.Content)-1]
	if trailer.Type != document.TypeExpand || trailer.Attrs[AttrAnnotationRole] != roleTrailer {
		t.Fatalf("trailer wrong: %+v", trailer)
	}
	if got := document.PlainText(trailer.Content[0]); got != "[1] early note" {
		t.Fatalf("trailer entry wrong: %q", got)
	}

	stripped := StripAnnotations(out)
	if strings.Contains(treeJSON(t, stripped), "note") {
		t.Fatal("StripAnnotations left annotation content behind")
	}
}

func TestGhostKeepsDisabledContent(t *testing.T) {
	out := Ghost(greetingTemplate(), nil, map[string]string{"name": "Ada"})

	js := treeJSON(t, out)
	if !strings.Contains(js, "More info") {
		t.Fatal("ghost render dropped disabled content")
	}
	if !strings.Contains(js, AttrToggleDisabled) {
		t.Fatal("disabled content not tagged")
	}
	if strings.Contains(js, "toggle:") {
		t.Fatal("ghost render leaked markers")
	}
}

func TestGhostText(t *testing.T) {
	got := GhostText(greetingTemplate(),
		map[string]bool{"extra": false},
		map[string]string{"name": "Ada"})
	want := "Hello Ada[toggle extra (off)] More info[/toggle extra]"
	if got != want {
		t.Fatalf("GhostText = %q, want %q", got, want)
	}
}

func TestMalformedTreesDoNotPanic(t *testing.T) {
	trees := []*document.Node{
		nil,
		{},
		{Type: document.TypeDoc, Content: []*document.Node{nil, nil}},
		{Type: document.TypeDoc, Content: []*document.Node{
			{Type: document.TypeParagraph, Content: []*document.Node{nil}},
		}},
	}
	for i, tree := range trees {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("tree %d: render panicked: %v", i, r)
				}
			}()
			Render(tree, Options{
				ToggleStates:     map[string]bool{"x": true},
				VariableValues:   map[string]string{"v": "1"},
				CustomInsertions: []models.TextInsertion{{Position: 1, Text: "t"}},
				InternalNotes:    []models.TextInsertion{{Position: 1, Text: "n"}},
			})
		}()
	}
}

func TestToggleNames(t *testing.T) {
	tmpl := document.Doc(
		document.Paragraph(document.Text("{{toggle:b}}x{{/toggle:b}} {{toggle:a}}y{{/toggle:a}} {{toggle:b}}z{{/toggle:b}}")),
	)
	names := ToggleNames(tmpl)
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("ToggleNames = %v", names)
	}
}
