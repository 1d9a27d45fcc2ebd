package legacy

import (
	"errors"
	"strings"
	"testing"

	"github.com/contentforge/core/internal/modules/document"
)

func TestConvertBasicBlocks(t *testing.T) {
	body := "# Title\n\nFirst paragraph with **bold** and `code`.\n\n- item one\n- item two\n"
	tree, err := Convert(body)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if tree.Type != document.TypeDoc || len(tree.Content) != 3 {
		t.Fatalf("unexpected root shape: %d children", len(tree.Content))
	}

	heading := tree.Content[0]
	if heading.Type != document.TypeHeading || heading.Attrs["level"] != 1 {
		t.Fatalf("heading wrong: %+v", heading)
	}
	if got := document.PlainText(heading); got != "Title" {
		t.Fatalf("heading text = %q", got)
	}

	para := tree.Content[1]
	var boldRun, codeRun *document.Node
	for _, run := range para.Content {
		if run.HasMark(document.MarkBold) {
			boldRun = run
		}
		if run.HasMark(document.MarkCode) {
			codeRun = run
		}
	}
	if boldRun == nil || boldRun.Text != "bold" {
		t.Fatalf("bold run missing: %+v", para.Content)
	}
	if codeRun == nil || codeRun.Text != "code" {
		t.Fatalf("code run missing: %+v", para.Content)
	}

	list := tree.Content[2]
	if list.Type != document.TypeBulletList || len(list.Content) != 2 {
		t.Fatalf("list wrong: %+v", list)
	}
	if got := document.PlainText(list.Content[1]); got != "item two" {
		t.Fatalf("list item text = %q", got)
	}
}

func TestConvertPreservesEngineMarkers(t *testing.T) {
	body := "Hello {{name}}\n\n{{toggle:extra}}More info{{/toggle:extra}}\n"
	tree, err := Convert(body)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	text := document.PlainText(tree)
	for _, marker := range []string{"{{name}}", "{{toggle:extra}}", "{{/toggle:extra}}"} {
		if !strings.Contains(text, marker) {
			t.Fatalf("marker %q lost during conversion: %q", marker, text)
		}
	}
}

func TestConvertCodeBlockAndRule(t *testing.T) {
	body := "```\nline 1\nline 2\n```\n\n---\n"
	tree, err := Convert(body)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if tree.Content[0].Type != document.TypeCodeBlock {
		t.Fatalf("want codeBlock, got %s", tree.Content[0].Type)
	}
	if got := document.PlainText(tree.Content[0]); got != "line 1\nline 2" {
		t.Fatalf("code text = %q", got)
	}
	if tree.Content[1].Type != document.TypeRule {
		t.Fatalf("want rule, got %s", tree.Content[1].Type)
	}
}

func TestConvertEmpty(t *testing.T) {
	if _, err := Convert("   \n"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
}
