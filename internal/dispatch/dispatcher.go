// Package dispatch uploads corrected revisions in bounded changesets and
// annotates the changesets that were reverted.
//
// A Dispatcher owns at most one open changeset and is not safe for
// concurrent use: all calls must come from one writer goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/reparanda/internal/osm"
)

// DefaultMaxChangesetSize is the number of entities per changeset.
const DefaultMaxChangesetSize = 9999

// ErrCreateChangeset wraps a failure to open a changeset. Nothing can be
// uploaded after it.
var ErrCreateChangeset = errors.New("cannot open changeset")

// ChangesetAPI is the write side of the OSM API.
type ChangesetAPI interface {
	CreateChangeset(ctx context.Context, doc []byte) (int64, error)
	UpdateEntity(ctx context.Context, key osm.EntityKey, doc []byte) error
	CloseChangeset(ctx context.Context, id int64) error
	CommentChangeset(ctx context.Context, id int64, text string) error
}

// Options configures a Dispatcher.
type Options struct {
	User                      string
	CreatedBy                 string
	Comment                   string
	MaxChangesetSize          int
	DryRun                    bool
	ReuseChangeset            int64
	AutomaticConflictSolution bool
	CommentReverted           bool
	Logger                    *slog.Logger
}

// Dispatcher implements the upload side of a revert.
type Dispatcher struct {
	api     ChangesetAPI
	builder *Builder
	opts    Options
	logger  *slog.Logger

	open     int64              // 0 when no changeset is open
	count    int                // entities in the open changeset
	pending  map[int64]struct{} // changesets reverted in the open changeset
	reverted map[int64]struct{} // changesets reverted during the run
	used     []int64            // changesets opened or reused, in order
	uploaded int
}

// New creates a Dispatcher.
func New(api ChangesetAPI, opts Options) *Dispatcher {
	if opts.MaxChangesetSize <= 0 {
		opts.MaxChangesetSize = DefaultMaxChangesetSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		api:      api,
		builder:  NewBuilder(opts.User, opts.CreatedBy, opts.AutomaticConflictSolution),
		opts:     opts,
		logger:   logger,
		pending:  make(map[int64]struct{}),
		reverted: make(map[int64]struct{}),
	}
	if opts.ReuseChangeset > 0 {
		d.open = opts.ReuseChangeset
		d.builder.SetChangeset(opts.ReuseChangeset)
		d.used = append(d.used, opts.ReuseChangeset)
	}
	return d
}

// Submit uploads rev and records credited as reverted by the current
// changeset. A new changeset is opened on demand and rolled over once it
// holds MaxChangesetSize entities.
func (d *Dispatcher) Submit(ctx context.Context, rev *osm.Revision, credited []int64) error {
	if rev == nil {
		return nil
	}
	if d.opts.DryRun {
		d.logger.Info("would upload", "kind", rev.Kind.String(), "id", rev.ID, "version", rev.Version, "tags", formatTags(rev.Tags))
		d.credit(credited)
		d.uploaded++
		return nil
	}

	if d.open != 0 && d.count >= d.opts.MaxChangesetSize {
		if err := d.Close(ctx); err != nil {
			return err
		}
		d.logger.Info("opening a new changeset")
	}
	if d.open == 0 {
		if err := d.openChangeset(ctx); err != nil {
			return err
		}
	}

	doc, err := d.builder.Entity(rev)
	if err != nil {
		return err
	}
	if err := d.api.UpdateEntity(ctx, rev.Key(), doc); err != nil {
		return err
	}
	d.count++
	d.uploaded++
	d.credit(credited)
	return nil
}

func (d *Dispatcher) credit(ids []int64) {
	for _, id := range ids {
		d.pending[id] = struct{}{}
		d.reverted[id] = struct{}{}
	}
}

func (d *Dispatcher) openChangeset(ctx context.Context) error {
	doc, err := d.builder.Changeset(d.opts.Comment)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateChangeset, err)
	}
	id, err := d.api.CreateChangeset(ctx, doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateChangeset, err)
	}
	d.logger.Info("changeset opened", "changeset", id)
	d.open = id
	d.count = 0
	d.builder.SetChangeset(id)
	d.used = append(d.used, id)
	return nil
}

// Close closes the open changeset, if any, and comments on it with the list
// of changesets it reverted. A close failure is logged; the comment is still
// attempted since the API closes idle changesets on its own.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.open == 0 || d.opts.DryRun {
		return nil
	}
	id := d.open
	if err := d.api.CloseChangeset(ctx, id); err != nil {
		d.logger.Error("close changeset", "changeset", id, "error", err)
	} else {
		d.logger.Info("changeset closed", "changeset", id)
	}

	var err error
	if len(d.pending) > 0 {
		err = d.comment(ctx, id, CloseComment(sortedIDs(d.pending)))
	}
	d.open = 0
	d.count = 0
	d.pending = make(map[int64]struct{})
	return err
}

// Finish closes the open changeset and, when configured, comments on every
// reverted changeset.
func (d *Dispatcher) Finish(ctx context.Context) error {
	if err := d.Close(ctx); err != nil {
		return err
	}
	if !d.opts.CommentReverted || len(d.reverted) == 0 {
		return nil
	}
	text := RevertedComment(d.used, d.opts.Comment)
	for _, id := range sortedIDs(d.reverted) {
		if err := d.comment(ctx, id, text); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) comment(ctx context.Context, id int64, text string) error {
	if d.opts.DryRun {
		d.logger.Info("would comment changeset", "changeset", id, "text", text)
		return nil
	}
	if err := d.api.CommentChangeset(ctx, id, text); err != nil {
		return err
	}
	d.logger.Debug("changeset commented", "changeset", id)
	return nil
}

// OpenChangeset returns the id of the open changeset, or 0.
func (d *Dispatcher) OpenChangeset() int64 { return d.open }

// Used returns the changesets written to so far, in order.
func (d *Dispatcher) Used() []int64 { return append([]int64(nil), d.used...) }

// Uploaded returns the number of entities submitted successfully.
func (d *Dispatcher) Uploaded() int { return d.uploaded }

// Reverted returns every changeset credited so far, sorted.
func (d *Dispatcher) Reverted() []int64 { return sortedIDs(d.reverted) }

// CloseComment is posted on a changeset of ours when it is closed.
func CloseComment(reverted []int64) string {
	return "This changeset reverts some or all edits made in the following changeset: " + joinIDs(reverted)
}

// RevertedComment is posted on every reverted changeset after the run.
func RevertedComment(used []int64, reason string) string {
	return "This changeset has been reverted fully or in part by one or multiple of the following changesets: " +
		joinIDs(used) + "\n\nThe reason for the revert is: " + reason
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func formatTags(tags osm.Tags) string {
	var b strings.Builder
	for i, k := range tags.SortedKeys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", k, tags[k])
	}
	return b.String()
}
