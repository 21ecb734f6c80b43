package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/reparanda/internal/osm"
	"github.com/roach88/reparanda/internal/policy"
)

// Source is the revision store the engine pulls history from.
//
// Failures are reported as a Status, never as an error: a failed fetch only
// affects the entity being reconciled.
type Source interface {
	// Revision fetches one numbered revision. With fallback set, a redacted
	// revision is replaced by the nearest earlier disclosable one, reported
	// as StatusRedactedFallback.
	Revision(ctx context.Context, key osm.EntityKey, version int, fallback bool) (*osm.Revision, osm.Status)

	// Latest fetches the current revision of the entity.
	Latest(ctx context.Context, key osm.EntityKey) (*osm.Revision, osm.Status)
}

// VersionSet is the set of versions authored by the offending actor.
type VersionSet map[int]struct{}

// NewVersionSet builds a set from versions.
func NewVersionSet(versions ...int) VersionSet {
	s := make(VersionSet, len(versions))
	for _, v := range versions {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s VersionSet) Has(v int) bool {
	_, ok := s[v]
	return ok
}

// ErrInvalidInput is returned when the known revisions cannot describe a
// single entity's history.
var ErrInvalidInput = errors.New("invalid reconciliation input")

// Engine reconciles entities one at a time against a Source and a Policy.
type Engine struct {
	source    Source
	policy    policy.Policy
	logger    *slog.Logger
	autoSolve bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAutomaticConflictSolution controls whether edits made by others after
// the known revisions are merged automatically. When disabled such entities
// are reported for manual review instead. Default: enabled.
func WithAutomaticConflictSolution(enabled bool) Option {
	return func(e *Engine) {
		e.autoSolve = enabled
	}
}

// New creates an Engine.
func New(source Source, p policy.Policy, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		policy:    p,
		logger:    slog.Default(),
		autoSolve: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy the engine consults.
func (e *Engine) Policy() policy.Policy {
	return e.policy
}

// Reconcile decides what to do with one entity.
//
// known are the revisions of the entity supplied as input, in any order. bad
// is the set of versions to suppress; nil means the versions of known.
// The error is non-nil only for malformed input. Everything the store
// reports is folded into the Result.
func (e *Engine) Reconcile(ctx context.Context, known []*osm.Revision, bad VersionSet) (Result, error) {
	if len(known) == 0 {
		return Result{}, fmt.Errorf("%w: no revisions", ErrInvalidInput)
	}
	revs := append([]*osm.Revision(nil), known...)
	osm.SortRevisions(revs)

	key := revs[0].Key()
	for i, r := range revs {
		if r.Key() != key {
			return Result{}, fmt.Errorf("%w: %s and %s in one run", ErrInvalidInput, key, r.Key())
		}
		if r.Version < 1 {
			return Result{}, fmt.Errorf("%w: %s has no version", ErrInvalidInput, r)
		}
		if i > 0 && revs[i-1].Version == r.Version {
			return Result{}, fmt.Errorf("%w: duplicate %s", ErrInvalidInput, r)
		}
	}
	if bad == nil {
		bad = make(VersionSet, len(revs))
		for _, r := range revs {
			bad[r.Version] = struct{}{}
		}
	}

	log := e.logger.With("kind", key.Kind.String(), "id", key.ID)
	if len(revs) == 1 {
		return e.single(ctx, log, revs[0], bad), nil
	}
	return e.multiple(ctx, log, revs, bad), nil
}

// versionOne handles an entity with no predecessor to restore from.
func (e *Engine) versionOne(log *slog.Logger, rev *osm.Revision) Result {
	if e.policy.Suspicious(rev) {
		log.Warn("manual action needed", "version", rev.Version, "changeset", rev.Changeset, "reason", ReasonSuspiciousV1)
		return ManualReview(rev.Key(), rev.Version, ReasonSuspiciousV1)
	}
	log.Info("version 1 entity ignored", "version", rev.Version)
	return NoAction(rev.Key())
}

func (e *Engine) single(ctx context.Context, log *slog.Logger, known *osm.Revision, bad VersionSet) Result {
	key := known.Key()
	if known.Version == 1 {
		return e.versionOne(log, known)
	}

	latest, st := e.source.Latest(ctx, key)
	if !st.Usable() {
		log.Warn("latest revision unavailable, skipping", "status", st.String())
		return NoAction(key)
	}
	if !e.policy.Applicable(latest) {
		log.Info("latest revision no longer applicable, skipping", "version", latest.Version)
		return NoAction(key)
	}
	if latest.Version < known.Version {
		log.Warn("manual action needed", "version", known.Version, "latest", latest.Version, "reason", ReasonLatestBehind)
		return ManualReview(key, known.Version, ReasonLatestBehind)
	}

	prev, st := e.source.Revision(ctx, key, known.Version-1, true)
	switch {
	case st == osm.StatusRedacted:
		log.Info("predecessor redacted, treating as version 1", "version", known.Version-1)
		return e.versionOne(log, known)
	case !st.Usable():
		log.Warn("predecessor unavailable, skipping", "version", known.Version-1, "status", st.String())
		return NoAction(key)
	}

	if !e.policy.IsDamaging(prev, known) || !e.policy.InScope(known) {
		log.Debug("known revision is not damaging", "version", known.Version)
		return NoAction(key)
	}

	if latest.Version == known.Version {
		log.Debug("direct correction", "version", known.Version, "from", prev.Version)
		return e.walk(ctx, log, prev, latest, bad)
	}
	if !e.autoSolve {
		log.Warn("manual action needed", "version", known.Version, "latest", latest.Version, "reason", ReasonConflict)
		return ManualReview(key, known.Version, ReasonConflict)
	}
	log.Info("CONFLICT (will be solved automatically)", "version", known.Version, "latest", latest.Version)
	return e.walk(ctx, log, prev, latest, bad)
}

func (e *Engine) multiple(ctx context.Context, log *slog.Logger, revs []*osm.Revision, bad VersionSet) Result {
	first, last := revs[0], revs[len(revs)-1]
	key := first.Key()
	if first.Version == 1 {
		log.Warn("manual action needed", "version", 1, "changeset", first.Changeset, "reason", ReasonVersionOneChain)
		return ManualReview(key, 1, ReasonVersionOneChain)
	}

	latest, st := e.source.Latest(ctx, key)
	if !st.Usable() {
		log.Warn("latest revision unavailable, skipping", "status", st.String())
		return NoAction(key)
	}
	if latest.Version < last.Version {
		log.Warn("manual action needed", "version", last.Version, "latest", latest.Version, "reason", ReasonLatestBehind)
		return ManualReview(key, last.Version, ReasonLatestBehind)
	}
	if latest.Version > last.Version && !e.autoSolve {
		log.Warn("manual action needed", "version", last.Version, "latest", latest.Version, "reason", ReasonConflict)
		return ManualReview(key, last.Version, ReasonConflict)
	}

	oldest, st := e.source.Revision(ctx, key, first.Version-1, true)
	switch {
	case st == osm.StatusRedacted:
		log.Warn("manual action needed", "version", first.Version, "reason", ReasonRedactedPredecessor)
		return ManualReview(key, first.Version, ReasonRedactedPredecessor)
	case !st.Usable():
		log.Warn("predecessor unavailable, skipping", "version", first.Version-1, "status", st.String())
		return NoAction(key)
	}
	return e.walk(ctx, log, oldest, latest, bad)
}

// walk replays the history from oldest to latest and returns the corrected
// latest revision, if any.
func (e *Engine) walk(ctx context.Context, log *slog.Logger, oldest, latest *osm.Revision, bad VersionSet) Result {
	key := latest.Key()
	restore := make(map[string]policy.Value)
	track := func(rev *osm.Revision) {
		for _, k := range e.policy.Keys(rev) {
			if _, ok := restore[k]; !ok {
				restore[k] = policy.ValueOf(oldest.Tags, k)
			}
		}
	}
	track(oldest)

	var credited []int64
	previous := oldest
	for v := oldest.Version + 1; v <= latest.Version; v++ {
		cur := latest
		if v < latest.Version {
			rev, st := e.source.Revision(ctx, key, v, false)
			if st == osm.StatusRedacted {
				log.Info("skipping redacted version", "version", v)
				continue
			}
			if !st.Usable() {
				log.Warn("intermediate revision unavailable, skipping entity", "version", v, "status", st.String())
				return NoAction(key)
			}
			cur = rev
		}
		track(cur)

		isBad := bad.Has(cur.Version)
		inScope := e.policy.InScope(previous) && e.policy.InScope(cur)
		creditedHere := false
		credit := func() {
			if !creditedHere {
				credited = append(credited, cur.Changeset)
				creditedHere = true
			}
		}
		for _, k := range sortedKeys(restore) {
			changed, newValue := policy.TagChanged(previous.Tags, cur.Tags, k)
			attrs := []any{"version", cur.Version, "changeset", cur.Changeset, "key", k, "value", newValue.String()}
			switch {
			case !isBad:
				if changed {
					restore[k] = newValue
					log.Info("adopted later change", attrs...)
				}
			case e.policy.Suppresses(previous, cur, k):
				credit()
				if changed {
					log.Info("ignored change", attrs...)
				}
			case changed && !inScope:
				credit()
				restore[k] = newValue
				log.Info("adopted out-of-scope change", attrs...)
			case changed:
				restore[k] = newValue
				log.Info("kept change of bad version", attrs...)
			}
		}
		previous = cur
	}

	tags := latest.Tags.Clone()
	for k, v := range restore {
		v.Apply(tags, k)
	}
	if tags.Equal(latest.Tags) {
		log.Info("latest revision already matches, no action", "version", latest.Version)
		return NoAction(key)
	}
	if len(credited) == 0 {
		log.Warn("correction without credited changeset, skipping", "version", latest.Version)
		return NoAction(key)
	}

	corrected := latest.WithTags(tags)
	res := Corrected(corrected, credited)
	for _, cs := range res.Credited {
		log.Info("credited changeset", "changeset", cs)
	}
	log.Info("ACTION", "version", latest.Version, "changes", diffSummary(latest.Tags, tags))
	return res
}

func sortedKeys(m map[string]policy.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffSummary renders the changed keys as "key: old -> new" pairs.
func diffSummary(before, after osm.Tags) []string {
	keys := make(map[string]struct{})
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	var out []string
	for k := range keys {
		b, a := policy.ValueOf(before, k), policy.ValueOf(after, k)
		if a != b {
			out = append(out, fmt.Sprintf("%s: %s -> %s", k, b, a))
		}
	}
	sort.Strings(out)
	return out
}
