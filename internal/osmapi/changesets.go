package osmapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/reparanda/internal/osm"
)

const (
	xmlContentType  = "text/xml"
	formContentType = "application/x-www-form-urlencoded"
)

// CreateChangeset uploads a changeset document and returns the new id.
func (c *Client) CreateChangeset(ctx context.Context, doc []byte) (int64, error) {
	body, err := c.write(ctx, request{method: http.MethodPut, path: "/changeset/create", body: doc, contentType: xmlContentType})
	if err != nil {
		return 0, fmt.Errorf("create changeset: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("create changeset: unexpected response %q", body)
	}
	return id, nil
}

// UpdateEntity uploads a single-entity document to {kind}/{id}.
func (c *Client) UpdateEntity(ctx context.Context, key osm.EntityKey, doc []byte) error {
	path := fmt.Sprintf("/%s/%d", key.Kind, key.ID)
	if _, err := c.write(ctx, request{method: http.MethodPut, path: path, body: doc, contentType: xmlContentType}); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

// CloseChangeset closes changeset id.
func (c *Client) CloseChangeset(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/changeset/%d/close", id)
	if _, err := c.write(ctx, request{method: http.MethodPut, path: path}); err != nil {
		return fmt.Errorf("close changeset %d: %w", id, err)
	}
	return nil
}

// CommentChangeset posts a discussion comment on a closed changeset.
func (c *Client) CommentChangeset(ctx context.Context, id int64, text string) error {
	path := fmt.Sprintf("/changeset/%d/comment", id)
	form := url.Values{"text": {text}}
	if _, err := c.write(ctx, request{method: http.MethodPost, path: path, body: []byte(form.Encode()), contentType: formContentType}); err != nil {
		return fmt.Errorf("comment changeset %d: %w", id, err)
	}
	return nil
}

// QueryChangesets runs a changeset metadata query and returns the raw
// response document.
func (c *Client) QueryChangesets(ctx context.Context, query url.Values) ([]byte, error) {
	body, err := c.read(ctx, "/changesets?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("query changesets: %w", err)
	}
	return body, nil
}

// DownloadChangeset returns the osmChange document of changeset id.
func (c *Client) DownloadChangeset(ctx context.Context, id int64) ([]byte, error) {
	body, err := c.read(ctx, fmt.Sprintf("/changeset/%d/download", id))
	if err != nil {
		return nil, fmt.Errorf("download changeset %d: %w", id, err)
	}
	return body, nil
}
