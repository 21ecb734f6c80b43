package osmapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/roach88/reparanda/internal/osm"
)

// Revision fetches {kind}/{id}/{version}.
//
// 403 means the version is redacted. With fallback set the client walks
// down to the nearest earlier disclosable version and reports
// StatusRedactedFallback, or StatusRedacted once version 1 is redacted too.
func (c *Client) Revision(ctx context.Context, key osm.EntityKey, version int, fallback bool) (*osm.Revision, osm.Status) {
	for v := version; v >= 1; v-- {
		rev, st := c.revision(ctx, key, v)
		if st != osm.StatusRedacted {
			if st == osm.StatusExists && v != version {
				return rev, osm.StatusRedactedFallback
			}
			return rev, st
		}
		if !fallback {
			return nil, osm.StatusRedacted
		}
		c.logger.Debug("redacted version, trying predecessor", "kind", key.Kind.String(), "id", key.ID, "version", v)
	}
	c.logger.Warn("all previous versions are redacted", "kind", key.Kind.String(), "id", key.ID, "version", version)
	return nil, osm.StatusRedacted
}

func (c *Client) revision(ctx context.Context, key osm.EntityKey, version int) (*osm.Revision, osm.Status) {
	path := fmt.Sprintf("/%s/%d/%d", key.Kind, key.ID, version)
	status, body, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		c.logger.Warn("fetch revision", "kind", key.Kind.String(), "id", key.ID, "version", version, "error", err)
		return nil, osm.StatusError
	}
	switch status {
	case http.StatusOK:
		return c.decodeOne(key, body)
	case http.StatusForbidden:
		return nil, osm.StatusRedacted
	case http.StatusNotFound:
		return nil, osm.StatusNotFound
	case http.StatusGone:
		return nil, osm.StatusDeleted
	default:
		return nil, osm.StatusError
	}
}

// Latest fetches {kind}/{id}.
func (c *Client) Latest(ctx context.Context, key osm.EntityKey) (*osm.Revision, osm.Status) {
	path := fmt.Sprintf("/%s/%d", key.Kind, key.ID)
	status, body, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		c.logger.Warn("fetch latest revision", "kind", key.Kind.String(), "id", key.ID, "error", err)
		return nil, osm.StatusError
	}
	switch status {
	case http.StatusOK:
		return c.decodeOne(key, body)
	case http.StatusNotFound:
		return nil, osm.StatusNotFound
	case http.StatusGone:
		return nil, osm.StatusDeleted
	default:
		return nil, osm.StatusError
	}
}

// History fetches {kind}/{id}/history sorted by version. Redacted versions
// are missing from the response.
func (c *Client) History(ctx context.Context, key osm.EntityKey) ([]*osm.Revision, osm.Status) {
	path := fmt.Sprintf("/%s/%d/history", key.Kind, key.ID)
	status, body, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, osm.StatusError
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, osm.StatusNotFound
	case http.StatusGone:
		return nil, osm.StatusDeleted
	default:
		return nil, osm.StatusError
	}
	revs, err := osm.Decode(bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("decode history", "kind", key.Kind.String(), "id", key.ID, "error", err)
		return nil, osm.StatusError
	}
	osm.SortRevisions(revs)
	return revs, osm.StatusExists
}

func (c *Client) decodeOne(key osm.EntityKey, body []byte) (*osm.Revision, osm.Status) {
	revs, err := osm.Decode(bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("decode revision", "kind", key.Kind.String(), "id", key.ID, "error", err)
		return nil, osm.StatusError
	}
	for _, r := range revs {
		if r.Key() == key {
			return r, osm.StatusExists
		}
	}
	return nil, osm.StatusError
}
