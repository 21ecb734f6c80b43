package reconcile

import (
	"fmt"
	"sort"

	"github.com/roach88/reparanda/internal/osm"
)

// Action tags a Result.
type Action int

const (
	// ActionNone means the latest revision is left as it is.
	ActionNone Action = iota
	// ActionCorrect means Result.Revision must be uploaded.
	ActionCorrect
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "no_action"
	case ActionCorrect:
		return "correct"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Reasons attached to manual-review notices.
const (
	ReasonSuspiciousV1        = "version 1 carries the damage signature"
	ReasonLatestBehind        = "latest revision is older than the known revision"
	ReasonRedactedPredecessor = "every revision before the known one is redacted"
	ReasonConflict            = "later edits need manual conflict resolution"
	ReasonVersionOneChain     = "known revisions start at version 1"
)

// Notice asks an operator to look at an entity the engine would not touch.
type Notice struct {
	Key     osm.EntityKey
	Version int
	Reason  string
}

func (n Notice) String() string {
	return fmt.Sprintf("%s v%d: %s", n.Key, n.Version, n.Reason)
}

// Result is the outcome of reconciling one entity.
//
// INVARIANTS:
//   - Action == ActionCorrect iff Revision != nil
//   - Credited is non-empty iff Action == ActionCorrect
//   - Manual may be set only when Action == ActionNone
type Result struct {
	Key      osm.EntityKey
	Action   Action
	Revision *osm.Revision
	Credited []int64
	Manual   *Notice
}

// NoAction is the result for an entity that must not be changed.
func NoAction(key osm.EntityKey) Result {
	return Result{Key: key, Action: ActionNone}
}

// ManualReview is NoAction plus an operator notice.
func ManualReview(key osm.EntityKey, version int, reason string) Result {
	return Result{
		Key:    key,
		Action: ActionNone,
		Manual: &Notice{Key: key, Version: version, Reason: reason},
	}
}

// Corrected builds the result carrying a corrected revision. credited is
// copied, deduplicated and sorted.
func Corrected(rev *osm.Revision, credited []int64) Result {
	return Result{
		Key:      rev.Key(),
		Action:   ActionCorrect,
		Revision: rev,
		Credited: sortedChangesets(credited),
	}
}

// IsCorrected reports whether the result carries a revision to upload.
func (r Result) IsCorrected() bool {
	return r.Action == ActionCorrect
}

func sortedChangesets(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
