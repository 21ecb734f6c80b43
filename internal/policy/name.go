package policy

import (
	"fmt"
	"regexp"

	"github.com/roach88/reparanda/internal/osm"
)

// Defaults of the name policy.
const (
	DefaultNameKey           = "name"
	DefaultSuspiciousPattern = `[A-Za-z] \(.+\)$`
)

// DefaultScopeKeys lists the category keys that put an entity in scope of the
// name policy when none are configured.
var DefaultScopeKeys = []string{"highway"}

// NameRule reverts overwrites of a single attribute (by default "name") on
// entities carrying one of the scope keys (by default "highway").
//
// A transition is damaging when the attribute exists on both sides with
// different values and both sides are in scope. Deleting or adding the
// attribute is not considered damage by this rule.
type NameRule struct {
	key        string
	scopeKeys  []string
	suspicious *regexp.Regexp
}

// NewNameRule builds a name rule. Empty arguments fall back to the defaults;
// an invalid pattern is an error.
func NewNameRule(key string, scopeKeys []string, suspiciousPattern string) (*NameRule, error) {
	if key == "" {
		key = DefaultNameKey
	}
	if len(scopeKeys) == 0 {
		scopeKeys = DefaultScopeKeys
	}
	if suspiciousPattern == "" {
		suspiciousPattern = DefaultSuspiciousPattern
	}
	re, err := regexp.Compile(suspiciousPattern)
	if err != nil {
		return nil, fmt.Errorf("name rule: suspicious pattern: %w", err)
	}
	return &NameRule{
		key:        key,
		scopeKeys:  append([]string(nil), scopeKeys...),
		suspicious: re,
	}, nil
}

func (r *NameRule) Name() string { return NameRuleName }

// Key returns the restored attribute.
func (r *NameRule) Key() string { return r.key }

func (r *NameRule) Keys(*osm.Revision) []string { return []string{r.key} }

func (r *NameRule) InScope(rev *osm.Revision) bool {
	for _, k := range r.scopeKeys {
		if rev.Tags.Has(k) {
			return true
		}
	}
	return false
}

func (r *NameRule) IsDamaging(prev, cur *osm.Revision) bool {
	before, ok := prev.Tags.Lookup(r.key)
	if !ok {
		return false
	}
	after, ok := cur.Tags.Lookup(r.key)
	if !ok {
		return false
	}
	if before == after {
		return false
	}
	return r.InScope(prev) && r.InScope(cur)
}

// Suppresses holds for every bad transition between two in-scope revisions,
// including ones that leave the attribute as it was.
func (r *NameRule) Suppresses(prev, cur *osm.Revision, _ string) bool {
	return r.InScope(prev) && r.InScope(cur)
}

func (r *NameRule) Suspicious(rev *osm.Revision) bool {
	v, ok := rev.Tags.Lookup(r.key)
	return ok && r.suspicious.MatchString(v)
}

// Applicable is false once the attribute is gone from the latest revision:
// somebody removed it on purpose and restoring would undo that.
func (r *NameRule) Applicable(latest *osm.Revision) bool {
	return latest.Tags.Has(r.key)
}
