// Package dochost talks to the external document host that Source templates
// physically live in. The engine needs two representations: raw text for
// cheap anchor presence checks and the document tree for extracting template
// content during format migration.
package dochost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/contentforge/core/internal/modules/document"
)

// ErrNotFound means the host answered and the document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrUnreachable means the host could not be consulted. Callers must treat
// this as "unknown", never as "content absent".
var ErrUnreachable = errors.New("document host unreachable")

// Host is the read-side contract against the document host.
type Host interface {
	FetchText(ctx context.Context, documentID string) (string, error)
	FetchTree(ctx context.Context, documentID string) (*document.Node, error)
}

// Client is the HTTP implementation of Host.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) FetchText(ctx context.Context, documentID string) (string, error) {
	body, err := c.fetch(ctx, documentID, "text")
	if err != nil {
		return "", err
	}
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode document %s: %w", documentID, err)
	}
	return payload.Body, nil
}

func (c *Client) FetchTree(ctx context.Context, documentID string) (*document.Node, error) {
	body, err := c.fetch(ctx, documentID, "tree")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Body *document.Node `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", documentID, err)
	}
	return payload.Body, nil
}

func (c *Client) fetch(ctx context.Context, documentID, representation string) ([]byte, error) {
	u := fmt.Sprintf("%s/documents/%s?representation=%s",
		c.baseURL, url.PathEscape(documentID), representation)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
