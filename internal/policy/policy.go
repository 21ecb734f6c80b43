// Package policy defines what a revert considers damage.
//
// A Policy is a strategy selected by name at startup (see New). It never
// fetches anything and never mutates the revisions it is shown; the
// reconciliation engine feeds it consecutive revisions of one entity and acts
// on its answers.
package policy

import (
	"github.com/roach88/reparanda/internal/osm"
)

// Policy is the contract between the reconciliation engine and a revert
// domain.
type Policy interface {
	// Name is the registry name of the policy.
	Name() string

	// Keys returns the attribute keys the policy restores that are relevant
	// on rev. Policies with a fixed attribute return it even when rev lacks it.
	Keys(rev *osm.Revision) []string

	// InScope reports whether rev belongs to the category of entities the
	// policy cares about. Out-of-scope revisions never count as damaging.
	InScope(rev *osm.Revision) bool

	// IsDamaging reports whether the transition prev -> cur removed or
	// overwrote information of interest.
	IsDamaging(prev, cur *osm.Revision) bool

	// Suppresses reports whether, in a version authored by the offending
	// actor, the transition of key from prev to cur is undone. The engine
	// credits the version whenever this holds, changed or not. Transitions
	// that are not suppressed are adopted.
	Suppresses(prev, cur *osm.Revision, key string) bool

	// Suspicious reports whether a version-1 revision carries the signature
	// of the damage. Such entities need manual review since there is no
	// earlier version to restore from.
	Suspicious(rev *osm.Revision) bool

	// Applicable reports whether the current latest revision still warrants
	// a single-version revert at all.
	Applicable(latest *osm.Revision) bool
}

// Value is an attribute value that may be absent.
type Value struct {
	Text    string
	Present bool
}

// Absent is the value of a missing attribute.
func Absent() Value { return Value{} }

// Present wraps an existing attribute value.
func Present(s string) Value { return Value{Text: s, Present: true} }

// ValueOf reads key from tags.
func ValueOf(tags osm.Tags, key string) Value {
	if v, ok := tags[key]; ok {
		return Present(v)
	}
	return Absent()
}

func (v Value) String() string {
	if !v.Present {
		return "<absent>"
	}
	return v.Text
}

// Apply writes v into tags, deleting key when v is absent.
func (v Value) Apply(tags osm.Tags, key string) {
	if v.Present {
		tags[key] = v.Text
		return
	}
	delete(tags, key)
}

// TagChanged compares key between two tag maps. changed is true when the key
// is present in exactly one of them or present in both with different values.
// newValue is the value in newTags, absent when the key was deleted.
func TagChanged(oldTags, newTags osm.Tags, key string) (changed bool, newValue Value) {
	oldVal := ValueOf(oldTags, key)
	newVal := ValueOf(newTags, key)
	return oldVal != newVal, newVal
}
