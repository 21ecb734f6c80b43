package harness

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/roach88/reparanda/internal/history"
	"github.com/roach88/reparanda/internal/osm"
	"github.com/roach88/reparanda/internal/policy"
	"github.com/roach88/reparanda/internal/reconcile"
)

// Result is the outcome of running one scenario.
type Result struct {
	Name    string
	Pass    bool
	Errors  []string
	Outcome reconcile.Result
}

// timestamp gives history steps a deterministic, increasing time.
var timestamp = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario against an in-memory history and checks the
// outcome against its expectation. The error is non-nil only when the
// scenario cannot be executed at all; a failed expectation is reported via
// Result.Pass and Result.Errors.
func Run(ctx context.Context, s *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p, err := policy.New(s.Policy)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	source, known, err := buildHistory(s)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	autoSolve := true
	if s.AutomaticConflictSolution != nil {
		autoSolve = *s.AutomaticConflictSolution
	}
	engine := reconcile.New(source, p,
		reconcile.WithLogger(logger.With("scenario", s.Name)),
		reconcile.WithAutomaticConflictSolution(autoSolve),
	)

	var bad reconcile.VersionSet
	if len(s.Bad) > 0 {
		bad = reconcile.NewVersionSet(s.Bad...)
	}

	outcome, err := engine.Reconcile(ctx, known, bad)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	res := &Result{Name: s.Name, Outcome: outcome}
	res.Errors = check(s.Expect, outcome)
	res.Pass = len(res.Errors) == 0
	return res, nil
}

// buildHistory loads the scenario's history into a memory source and
// returns the known revisions.
func buildHistory(s *Scenario) (*history.Memory, []*osm.Revision, error) {
	kind, err := osm.ParseKind(s.Entity.Kind)
	if err != nil {
		return nil, nil, err
	}
	key := osm.EntityKey{Kind: kind, ID: s.Entity.ID}

	mem := history.NewMemory()
	byVersion := make(map[int]*osm.Revision, len(s.History))
	for _, h := range s.History {
		visible := true
		if h.Visible != nil {
			visible = *h.Visible
		}
		user := h.User
		if user == "" {
			user = fmt.Sprintf("mapper%d", h.Changeset)
		}
		rev := &osm.Revision{
			Kind:      kind,
			ID:        key.ID,
			Version:   h.Version,
			Changeset: h.Changeset,
			User:      user,
			Timestamp: timestamp.Add(time.Duration(h.Version) * time.Hour),
			Visible:   visible,
			Tags:      osm.Tags(h.Tags).Clone(),
		}
		mem.Add(rev)
		byVersion[h.Version] = rev
	}
	for _, h := range s.History {
		if h.Redacted {
			mem.Redact(key, h.Version)
		}
	}
	if s.LatestStatus != "" {
		mem.SetLatestStatus(key, latestStatuses[s.LatestStatus])
	}

	known := make([]*osm.Revision, 0, len(s.Known))
	for _, v := range s.Known {
		rev, ok := byVersion[v]
		if !ok {
			return nil, nil, fmt.Errorf("known version %d not in history", v)
		}
		known = append(known, rev)
	}
	return mem, known, nil
}

// check compares an outcome against the expectation and returns one message
// per mismatch.
func check(want Expectation, got reconcile.Result) []string {
	var errs []string
	action := actionOf(got)
	if action != want.Action {
		errs = append(errs, fmt.Sprintf("action: expected %s, got %s%s", want.Action, action, describe(got)))
		return errs
	}

	switch action {
	case ExpectCorrect:
		tags := got.Revision.Tags
		for k, v := range want.Tags {
			actual, ok := tags.Lookup(k)
			switch {
			case !ok:
				errs = append(errs, fmt.Sprintf("tags: %s missing, expected %q", k, v))
			case actual != v:
				errs = append(errs, fmt.Sprintf("tags: %s = %q, expected %q", k, actual, v))
			}
		}
		for _, k := range want.Absent {
			if v, ok := tags.Lookup(k); ok {
				errs = append(errs, fmt.Sprintf("tags: %s = %q, expected absent", k, v))
			}
		}
		if !reflect.DeepEqual(got.Credited, want.Credited) {
			errs = append(errs, fmt.Sprintf("credited: expected %v, got %v", want.Credited, got.Credited))
		}
	case ExpectManual:
		if !containsFold(got.Manual.Reason, want.Manual) {
			errs = append(errs, fmt.Sprintf("manual: expected reason containing %q, got %q", want.Manual, got.Manual.Reason))
		}
	}
	return errs
}

func actionOf(r reconcile.Result) string {
	switch {
	case r.IsCorrected():
		return ExpectCorrect
	case r.Manual != nil:
		return ExpectManual
	default:
		return ExpectNoAction
	}
}

func describe(r reconcile.Result) string {
	if r.Manual != nil {
		return fmt.Sprintf(" (%s)", r.Manual.Reason)
	}
	return ""
}
