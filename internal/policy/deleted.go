package policy

import (
	"sort"
	"strings"

	"github.com/roach88/reparanda/internal/osm"
)

// DefaultRestoreKeys are the keys (and their "key:*" subkeys) restored by the
// deletion rule when none are configured.
var DefaultRestoreKeys = []string{"wikipedia", "wikidata", "source", "source:geometry"}

// DeletionRule restores tags that were deleted. A key is tracked when it is
// one of the configured keys or starts with "<key>:". Every entity is in
// scope. Only deletions are undone: tracked values added or changed by the
// offending actor stay.
type DeletionRule struct {
	keys []string
}

// NewDeletionRule builds a deletion rule for keys (DefaultRestoreKeys when
// empty).
func NewDeletionRule(keys []string) *DeletionRule {
	if len(keys) == 0 {
		keys = DefaultRestoreKeys
	}
	return &DeletionRule{keys: append([]string(nil), keys...)}
}

func (r *DeletionRule) Name() string { return DeletionRuleName }

// Tracks reports whether key is restored by the rule.
func (r *DeletionRule) Tracks(key string) bool {
	for _, k := range r.keys {
		if key == k || strings.HasPrefix(key, k+":") {
			return true
		}
	}
	return false
}

func (r *DeletionRule) Keys(rev *osm.Revision) []string {
	var out []string
	for k := range rev.Tags {
		if r.Tracks(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (r *DeletionRule) InScope(*osm.Revision) bool { return true }

func (r *DeletionRule) IsDamaging(prev, cur *osm.Revision) bool {
	for k := range prev.Tags {
		if r.Tracks(k) && !cur.Tags.Has(k) {
			return true
		}
	}
	return false
}

// Suppresses holds only when key was present in prev and is gone in cur.
func (r *DeletionRule) Suppresses(prev, cur *osm.Revision, key string) bool {
	return r.Tracks(key) && prev.Tags.Has(key) && !cur.Tags.Has(key)
}

// Suspicious is always false: a version-1 entity has nothing deleted yet.
func (r *DeletionRule) Suspicious(*osm.Revision) bool { return false }

func (r *DeletionRule) Applicable(*osm.Revision) bool { return true }
