package dochost

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/contentforge/core/internal/modules/document"
)

func TestFetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents/doc-1" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header, got %q", got)
		}
		w.Write([]byte(`{"body":"clause anchor-1 text"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	text, err := c.FetchText(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if text != "clause anchor-1 text" {
		t.Fatalf("text = %q", text)
	}
}

func TestFetchTree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"body":{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hi"}]}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	tree, err := c.FetchTree(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := document.PlainText(tree); got != "hi" {
		t.Fatalf("tree text = %q", got)
	}
}

func TestNotFoundVsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	c := NewClient(srv.URL, "")
	if _, err := c.FetchText(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	srv.Close()

	// Server down: must be unreachable, never not-found.
	if _, err := c.FetchText(context.Background(), "gone"); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("want ErrUnreachable, got %v", err)
	}
}
