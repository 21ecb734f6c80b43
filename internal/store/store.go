package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/reparanda/internal/osm"
)

// ErrUnsupportedDSN is returned by Open for an unknown scheme.
var ErrUnsupportedDSN = errors.New("unsupported journal dsn")

// Outcome actions as stored in the journal.
const (
	ActionCorrected = "corrected"
	ActionNone      = "no_action"
	ActionManual    = "manual"
	ActionSkipped   = "skipped"
	ActionFailed    = "failed"
)

// Run is the header row of a revert run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Comment    string
	Policy     string
	DryRun     bool
}

// Outcome is what happened to one entity in a run.
type Outcome struct {
	RunID       string
	Seq         int
	Key         osm.EntityKey
	Version     int // latest version the decision was made on
	Action      string
	ContentHash string
	Changesets  []int64
	Uploaded    bool
}

// ManualReview is an entity handed to an operator.
type ManualReview struct {
	RunID   string
	Key     osm.EntityKey
	Version int
	Reason  string
}

// Journal persists run records and cached revisions.
//
// Implementations are safe for concurrent use, but the revert runner writes
// run records from a single goroutine.
type Journal interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID string, at time.Time) error
	GetRun(ctx context.Context, runID string) (Run, error)

	RecordOutcome(ctx context.Context, o Outcome) error
	RecordManual(ctx context.Context, m ManualReview) error
	Outcomes(ctx context.Context, runID string) ([]Outcome, error)
	ManualReviews(ctx context.Context, runID string) ([]ManualReview, error)
	Credited(ctx context.Context, runID string) ([]int64, error)

	// Uploaded reports whether any run uploaded a correction with hash for
	// this entity version.
	Uploaded(ctx context.Context, key osm.EntityKey, version int, hash string) (bool, error)

	CachedRevision(ctx context.Context, key osm.EntityKey, version int) (*osm.Revision, bool, error)
	CacheRevision(ctx context.Context, rev *osm.Revision) error

	Close() error
}

// Open builds a journal from a DSN.
func Open(dsn string) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedDSN)
	}
	scheme := ""
	if i := strings.Index(dsn, "://"); i > 0 {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedDSN, err)
		}
		scheme = strings.ToLower(parsed.Scheme)
	}

	switch scheme {
	case "":
		return openSQLite(dsn)
	case "sqlite", "sqlite3", "file":
		path := dsn[strings.Index(dsn, "://")+3:]
		if path == "" {
			return nil, fmt.Errorf("%w: %s has no path", ErrUnsupportedDSN, dsn)
		}
		return openSQLite(path)
	case "memory", "mem":
		return openSQLite(":memory:")
	case "postgres", "postgresql":
		p, err := NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedDSN, scheme)
	}
}

func openSQLite(path string) (Journal, error) {
	s, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
