package document

import (
	"fmt"
	"testing"
)

func p(texts ...string) *Node {
	var runs []*Node
	for _, t := range texts {
		runs = append(runs, Text(t))
	}
	return Paragraph(runs...)
}

// corpus covers the container types paragraphs can hide in.
func corpus() []*Node {
	return []*Node{
		Doc(),
		Doc(p("one")),
		Doc(p("one"), p("two"), p("three")),
		Doc(
			p("before"),
			&Node{Type: TypeTable, Content: []*Node{
				{Type: TypeTableRow, Content: []*Node{
					{Type: TypeTableCell, Content: []*Node{p("cell a"), p("cell b")}},
					{Type: TypeTableHeader, Content: []*Node{p("cell c")}},
				}},
			}},
			p("after"),
		),
		Doc(
			&Node{Type: TypeExpand, Content: []*Node{
				p("inside expand"),
				&Node{Type: TypeNestedExpand, Content: []*Node{p("nested")}},
			}},
			&Node{Type: TypePanel, Content: []*Node{p("panel")}},
		),
		Doc(
			&Node{Type: TypeBulletList, Content: []*Node{
				{Type: TypeListItem, Content: []*Node{p("item 1")}},
				{Type: TypeListItem, Content: []*Node{
					p("item 2"),
					&Node{Type: TypeOrderedList, Content: []*Node{
						{Type: TypeListItem, Content: []*Node{p("item 2.1")}},
					}},
				}},
			}},
			&Node{Type: TypeBlockquote, Content: []*Node{p("quoted")}},
		),
		Doc(
			&Node{Type: TypeHeading, Attrs: map[string]interface{}{"level": 1},
				Content: []*Node{Text("not a paragraph")}},
			nil, // tolerated
			p("counted"),
			&Node{Type: TypeRule},
		),
	}
}

// Insertion placement and annotation placement must number paragraphs
// identically, so the visiting fold and the sibling-splicing fold have to
// agree on every tree shape.
func TestCountingAgreement(t *testing.T) {
	for i, tree := range corpus() {
		count := CountParagraphs(tree)

		visited := 0
		lastOrdinal := 0
		VisitParagraphs(tree, func(_ *Node, ordinal int) {
			visited++
			if ordinal != lastOrdinal+1 {
				t.Fatalf("tree %d: ordinals not sequential: %d after %d", i, ordinal, lastOrdinal)
			}
			lastOrdinal = ordinal
		})
		if visited != count {
			t.Fatalf("tree %d: CountParagraphs=%d but VisitParagraphs saw %d", i, count, visited)
		}

		var emitted []int
		_, final := MapParagraphSiblings(tree, 0, func(ordinal int) []*Node {
			emitted = append(emitted, ordinal)
			return nil
		})
		if final != count {
			t.Fatalf("tree %d: MapParagraphSiblings counted %d, want %d", i, final, count)
		}
		for j, ord := range emitted {
			if ord != j+1 {
				t.Fatalf("tree %d: emit saw ordinal %d at position %d", i, ord, j)
			}
		}
	}
}

func TestMapParagraphSiblingsSplices(t *testing.T) {
	tree := Doc(
		p("first"),
		&Node{Type: TypeTable, Content: []*Node{
			{Type: TypeTableRow, Content: []*Node{
				{Type: TypeTableCell, Content: []*Node{p("second")}},
			}},
		}},
		p("third"),
	)

	out, _ := MapParagraphSiblings(tree, 0, func(ordinal int) []*Node {
		if ordinal == 2 {
			return []*Node{p(fmt.Sprintf("after %d", ordinal))}
		}
		return nil
	})

	cell := out.Content[1].Content[0].Content[0]
	if len(cell.Content) != 2 {
		t.Fatalf("sibling not spliced inside table cell: %d children", len(cell.Content))
	}
	if got := PlainText(cell.Content[1]); got != "after 2" {
		t.Fatalf("spliced paragraph text = %q", got)
	}
	// Original tree untouched at the splice point.
	origCell := tree.Content[1].Content[0].Content[0]
	if len(origCell.Content) != 1 {
		t.Fatal("input tree was mutated")
	}
}

func TestPlainText(t *testing.T) {
	tree := Doc(
		p("Hello ", "world"),
		Paragraph(Text("line one"), &Node{Type: TypeHardBreak}, Text("line two")),
	)
	want := "Hello world\nline one\nline two"
	if got := PlainText(tree); got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Doc(Paragraph(Text("x", Mark{Type: MarkBold})))
	orig.Attrs = map[string]interface{}{"meta": map[string]interface{}{"k": "v"}}

	copied := orig.Clone()
	copied.Content[0].Content[0].Text = "changed"
	copied.Attrs["meta"].(map[string]interface{})["k"] = "changed"

	if orig.Content[0].Content[0].Text != "x" {
		t.Fatal("clone shares text nodes")
	}
	if orig.Attrs["meta"].(map[string]interface{})["k"] != "v" {
		t.Fatal("clone shares attr maps")
	}
}
