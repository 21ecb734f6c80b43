package store

import (
	"context"
	"log/slog"

	"github.com/roach88/reparanda/internal/osm"
)

// Source is the revision lookup the engine consumes. It matches
// reconcile.Source so a CachedSource can stand in for the API client.
type Source interface {
	Revision(ctx context.Context, key osm.EntityKey, version int, fallback bool) (*osm.Revision, osm.Status)
	Latest(ctx context.Context, key osm.EntityKey) (*osm.Revision, osm.Status)
}

// CachedSource serves explicit revisions from the journal cache and falls
// through to the wrapped source on a miss. Only revisions that came back as
// StatusExists are stored; historical versions never change once written.
// Latest lookups are never cached.
type CachedSource struct {
	inner   Source
	journal Journal
	logger  *slog.Logger
}

// NewCachedSource wraps inner with the journal's revision cache.
func NewCachedSource(inner Source, journal Journal, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{inner: inner, journal: journal, logger: logger}
}

func (c *CachedSource) Revision(ctx context.Context, key osm.EntityKey, version int, fallback bool) (*osm.Revision, osm.Status) {
	rev, ok, err := c.journal.CachedRevision(ctx, key, version)
	if err != nil {
		c.logger.Warn("revision cache read failed", "entity", key.String(), "version", version, "error", err)
	}
	if ok {
		return rev, osm.StatusExists
	}

	rev, status := c.inner.Revision(ctx, key, version, fallback)
	if status == osm.StatusExists && rev != nil && rev.Version == version {
		if err := c.journal.CacheRevision(ctx, rev); err != nil {
			c.logger.Warn("revision cache write failed", "revision", rev.String(), "error", err)
		}
	}
	return rev, status
}

func (c *CachedSource) Latest(ctx context.Context, key osm.EntityKey) (*osm.Revision, osm.Status) {
	return c.inner.Latest(ctx, key)
}
