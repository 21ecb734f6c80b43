package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/reparanda/internal/canonical"
	"github.com/roach88/reparanda/internal/osm"
)

// sqlJournal implements Journal over database/sql. Queries are written with
// '?' placeholders and rebound for the backend.
type sqlJournal struct {
	conn      func() (*sql.DB, error)
	rebind    func(string) string
	opTimeout time.Duration
	close     func() error
}

func (j *sqlJournal) exec(ctx context.Context, query string, args ...any) error {
	db, err := j.conn()
	if err != nil {
		return err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()
	_, err = db.ExecContext(ctx, j.rebind(query), args...)
	return err
}

func (j *sqlJournal) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, j.opTimeout)
}

func (j *sqlJournal) StartRun(ctx context.Context, run Run) error {
	err := j.exec(ctx, `
		INSERT INTO runs (id, started_at, comment, policy, dry_run)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, run.ID, formatTime(run.StartedAt), run.Comment, run.Policy, run.DryRun)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

func (j *sqlJournal) FinishRun(ctx context.Context, runID string, at time.Time) error {
	if err := j.exec(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, formatTime(at), runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (j *sqlJournal) GetRun(ctx context.Context, runID string) (Run, error) {
	db, err := j.conn()
	if err != nil {
		return Run{}, err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	var (
		run      Run
		started  string
		finished sql.NullString
	)
	err = db.QueryRowContext(ctx, j.rebind(`
		SELECT id, started_at, comment, policy, dry_run, finished_at
		FROM runs WHERE id = ?
	`), runID).Scan(&run.ID, &started, &run.Comment, &run.Policy, &run.DryRun, &finished)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	return run, nil
}

// RecordOutcome writes the outcome and, for uploaded corrections, credits
// its changesets to the run. Recording the same entity twice in a run keeps
// the last outcome.
func (j *sqlJournal) RecordOutcome(ctx context.Context, o Outcome) error {
	changesets, err := marshalChangesets(o.Changesets)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	err = j.exec(ctx, `
		INSERT INTO outcomes (run_id, seq, kind, entity_id, version, action, content_hash, changesets, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, kind, entity_id) DO UPDATE SET
			seq = excluded.seq,
			version = excluded.version,
			action = excluded.action,
			content_hash = excluded.content_hash,
			changesets = excluded.changesets,
			uploaded = excluded.uploaded
	`, o.RunID, o.Seq, o.Key.Kind.String(), o.Key.ID, o.Version, o.Action, o.ContentHash, changesets, o.Uploaded)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.Key, err)
	}
	if !o.Uploaded {
		return nil
	}
	for _, cs := range o.Changesets {
		err := j.exec(ctx, `
			INSERT INTO credited (run_id, changeset_id) VALUES (?, ?)
			ON CONFLICT (run_id, changeset_id) DO NOTHING
		`, o.RunID, cs)
		if err != nil {
			return fmt.Errorf("record credited changeset %d: %w", cs, err)
		}
	}
	return nil
}

func (j *sqlJournal) RecordManual(ctx context.Context, m ManualReview) error {
	err := j.exec(ctx, `
		INSERT INTO manual_reviews (run_id, kind, entity_id, version, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, kind, entity_id) DO UPDATE SET
			version = excluded.version,
			reason = excluded.reason
	`, m.RunID, m.Key.Kind.String(), m.Key.ID, m.Version, m.Reason)
	if err != nil {
		return fmt.Errorf("record manual review %s: %w", m.Key, err)
	}
	return nil
}

func (j *sqlJournal) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	db, err := j.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, j.rebind(`
		SELECT seq, kind, entity_id, version, action, content_hash, changesets, uploaded
		FROM outcomes WHERE run_id = ?
		ORDER BY seq ASC
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		o := Outcome{RunID: runID}
		var kind, changesets string
		if err := rows.Scan(&o.Seq, &kind, &o.Key.ID, &o.Version, &o.Action, &o.ContentHash, &changesets, &o.Uploaded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if o.Key.Kind, err = osm.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if o.Changesets, err = unmarshalChangesets(changesets); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *sqlJournal) ManualReviews(ctx context.Context, runID string) ([]ManualReview, error) {
	db, err := j.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, j.rebind(`
		SELECT kind, entity_id, version, reason
		FROM manual_reviews WHERE run_id = ?
		ORDER BY kind ASC, entity_id ASC
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("list manual reviews: %w", err)
	}
	defer rows.Close()

	var out []ManualReview
	for rows.Next() {
		m := ManualReview{RunID: runID}
		var kind string
		if err := rows.Scan(&kind, &m.Key.ID, &m.Version, &m.Reason); err != nil {
			return nil, fmt.Errorf("scan manual review: %w", err)
		}
		if m.Key.Kind, err = osm.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("scan manual review: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (j *sqlJournal) Credited(ctx context.Context, runID string) ([]int64, error) {
	db, err := j.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, j.rebind(`
		SELECT changeset_id FROM credited WHERE run_id = ? ORDER BY changeset_id ASC
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("list credited: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan credited: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (j *sqlJournal) Uploaded(ctx context.Context, key osm.EntityKey, version int, hash string) (bool, error) {
	db, err := j.conn()
	if err != nil {
		return false, err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	var n int
	err = db.QueryRowContext(ctx, j.rebind(`
		SELECT COUNT(*) FROM outcomes
		WHERE kind = ? AND entity_id = ? AND version = ? AND content_hash = ? AND uploaded = ?
	`), key.Kind.String(), key.ID, version, hash, true).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check uploaded %s: %w", key, err)
	}
	return n > 0, nil
}

func (j *sqlJournal) CachedRevision(ctx context.Context, key osm.EntityKey, version int) (*osm.Revision, bool, error) {
	db, err := j.conn()
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()

	var payload, hash string
	err = db.QueryRowContext(ctx, j.rebind(`
		SELECT payload, hash FROM revision_cache
		WHERE kind = ? AND entity_id = ? AND version = ?
	`), key.Kind.String(), key.ID, version).Scan(&payload, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached revision: %w", err)
	}
	rev, err := unmarshalRevision(payload)
	if err != nil {
		return nil, false, fmt.Errorf("read cached revision: %w", err)
	}
	got, err := canonical.RevisionHash(rev)
	if err != nil || got != hash {
		// A mismatching entry is treated as a miss and overwritten later.
		return nil, false, nil
	}
	return rev, true, nil
}

func (j *sqlJournal) CacheRevision(ctx context.Context, rev *osm.Revision) error {
	payload, err := marshalRevision(rev)
	if err != nil {
		return fmt.Errorf("cache revision: %w", err)
	}
	hash, err := canonical.RevisionHash(rev)
	if err != nil {
		return fmt.Errorf("cache revision: %w", err)
	}
	err = j.exec(ctx, `
		INSERT INTO revision_cache (kind, entity_id, version, payload, hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, entity_id, version) DO UPDATE SET
			payload = excluded.payload,
			hash = excluded.hash
	`, rev.Kind.String(), rev.ID, rev.Version, payload, hash)
	if err != nil {
		return fmt.Errorf("cache revision %s: %w", rev, err)
	}
	return nil
}

func (j *sqlJournal) Close() error {
	if j.close == nil {
		return nil
	}
	return j.close()
}

// rebindDollar rewrites '?' placeholders to $1, $2, ... for PostgreSQL.
// Queries in this package never contain '?' inside string literals.
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rebindNone(query string) string { return query }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
