// Package group partitions a revision stream into per-entity runs.
package group

import (
	"github.com/roach88/reparanda/internal/osm"
)

// Run is the contiguous block of known revisions of one entity.
type Run struct {
	Key   osm.EntityKey
	Known []*osm.Revision
}

// Versions returns the version numbers of the run in order.
func (r Run) Versions() []int {
	out := make([]int, len(r.Known))
	for i, rev := range r.Known {
		out[i] = rev.Version
	}
	return out
}

// Partition splits an already sorted stream into maximal runs sharing kind
// and id. Order inside each run is preserved. revs is not modified.
func Partition(revs []*osm.Revision) []Run {
	var runs []Run
	for _, rev := range revs {
		key := rev.Key()
		if n := len(runs); n > 0 && runs[n-1].Key == key {
			runs[n-1].Known = append(runs[n-1].Known, rev)
			continue
		}
		runs = append(runs, Run{Key: key, Known: []*osm.Revision{rev}})
	}
	return runs
}

// Sorted sorts a copy of revs by kind, id and version and partitions it.
// Duplicate versions of one entity (the same revision listed in several
// input files) are collapsed.
func Sorted(revs []*osm.Revision) []Run {
	cp := append([]*osm.Revision(nil), revs...)
	osm.SortRevisions(cp)

	dedup := cp[:0:0]
	for _, rev := range cp {
		if n := len(dedup); n > 0 && dedup[n-1].Key() == rev.Key() && dedup[n-1].Version == rev.Version {
			continue
		}
		dedup = append(dedup, rev)
	}
	return Partition(dedup)
}
