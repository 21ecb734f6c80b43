package revert

import (
	"fmt"

	"github.com/roach88/reparanda/internal/osm"
)

// ReadInputs decodes the osmChange or OSM XML files naming the damaging
// revisions.
func ReadInputs(paths []string) ([]*osm.Revision, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	var all []*osm.Revision
	for _, p := range paths {
		revs, err := osm.ReadFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, revs...)
	}
	return all, nil
}

// FilterByUID keeps the revisions made by uid. A zero uid keeps everything.
func FilterByUID(revs []*osm.Revision, uid int64) []*osm.Revision {
	if uid == 0 {
		return revs
	}
	out := revs[:0:0]
	for _, r := range revs {
		if r.UID == uid {
			out = append(out, r)
		}
	}
	return out
}
