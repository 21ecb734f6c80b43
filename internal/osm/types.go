package osm

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the entity type. The numeric order (node < way < relation) is the
// order in which input streams are sorted.
type Kind int

const (
	KindNode Kind = iota + 1
	KindWay
	KindRelation
)

// String returns the API name of the kind ("node", "way", "relation").
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts both the long API names and the single letter
// abbreviations used by relation members in some tools.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "node", "n":
		return KindNode, nil
	case "way", "w":
		return KindWay, nil
	case "relation", "r":
		return KindRelation, nil
	default:
		return 0, fmt.Errorf("unknown entity kind %q", s)
	}
}

// EntityKey identifies an entity independent of its version.
type EntityKey struct {
	Kind Kind
	ID   int64
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s %d", k.Kind, k.ID)
}

// Less orders keys by kind first, then id.
func (k EntityKey) Less(o EntityKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.ID < o.ID
}

// Member is one entry of a relation's member list.
type Member struct {
	Type Kind
	Ref  int64
	Role string
}

// Tags maps attribute keys to values. A missing key means the attribute is
// absent; an empty string value is a present-but-empty attribute.
type Tags map[string]string

// Clone returns an independent copy. Cloning nil yields an empty map.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Lookup returns the value and whether the key is present.
func (t Tags) Lookup(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

// Has reports whether key is present.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// SortedKeys returns the keys in byte order, for deterministic output.
func (t Tags) SortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both maps hold the same keys and values.
func (t Tags) Equal(o Tags) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Revision is one historical version of an entity.
type Revision struct {
	Kind      Kind
	ID        int64
	Version   int
	Changeset int64
	User      string
	UID       int64
	Timestamp time.Time
	Visible   bool

	// Node coordinates. Zero for ways and relations.
	Lat float64
	Lon float64

	// Way node references, in order.
	Nodes []int64

	// Relation members, in order.
	Members []Member

	Tags Tags
}

// Key returns the entity identity of the revision.
func (r *Revision) Key() EntityKey {
	return EntityKey{Kind: r.Kind, ID: r.ID}
}

func (r *Revision) String() string {
	return fmt.Sprintf("%s %d v%d", r.Kind, r.ID, r.Version)
}

// Clone returns a deep copy; slices and the tag map are not shared.
func (r *Revision) Clone() *Revision {
	if r == nil {
		return nil
	}
	out := *r
	if r.Nodes != nil {
		out.Nodes = append([]int64(nil), r.Nodes...)
	}
	if r.Members != nil {
		out.Members = append([]Member(nil), r.Members...)
	}
	out.Tags = r.Tags.Clone()
	return &out
}

// WithTags returns a deep copy of r carrying tags instead of r's own map.
// The receiver is left untouched, so a corrected revision never aliases the
// revision it was derived from.
func (r *Revision) WithTags(tags Tags) *Revision {
	out := r.Clone()
	out.Tags = tags.Clone()
	return out
}

// Status reports what the revision store said about a requested revision.
type Status int

const (
	StatusUnknown Status = iota
	StatusExists
	StatusNotFound
	StatusDeleted
	StatusRedacted
	StatusRedactedFallback
	StatusTooMany
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusExists:
		return "exists"
	case StatusNotFound:
		return "not_found"
	case StatusDeleted:
		return "deleted"
	case StatusRedacted:
		return "redacted"
	case StatusRedactedFallback:
		return "redacted_fallback"
	case StatusTooMany:
		return "too_many"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Usable reports whether a revision came back with the status. Redacted is
// not usable; RedactedFallback is, since it carries an earlier revision.
func (s Status) Usable() bool {
	return s == StatusExists || s == StatusRedactedFallback
}

// SortRevisions orders revisions by kind, id and version, the order the
// grouper and the engine rely on.
func SortRevisions(revs []*Revision) {
	sort.SliceStable(revs, func(i, j int) bool {
		a, b := revs[i], revs[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Version < b.Version
	})
}
