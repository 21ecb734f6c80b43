package testutil

import (
	"io"
	"log/slog"

	"github.com/roach88/reparanda/internal/osm"
)

// Way builds a visible way revision. The changeset is ten times the version,
// so credited changesets can be read off the version numbers.
func Way(id int64, version int, tags osm.Tags) *osm.Revision {
	return &osm.Revision{
		Kind:      osm.KindWay,
		ID:        id,
		Version:   version,
		Changeset: int64(version * 10),
		Visible:   true,
		Nodes:     []int64{1, 2},
		Tags:      tags,
	}
}

// Node builds a visible node revision with the same changeset convention as
// Way.
func Node(id int64, version int, tags osm.Tags) *osm.Revision {
	return &osm.Revision{
		Kind:      osm.KindNode,
		ID:        id,
		Version:   version,
		Changeset: int64(version * 10),
		Visible:   true,
		Lat:       52.5,
		Lon:       13.4,
		Tags:      tags,
	}
}

// Highway returns the tags of a residential street called name.
func Highway(name string) osm.Tags {
	return osm.Tags{"highway": "residential", "name": name}
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
