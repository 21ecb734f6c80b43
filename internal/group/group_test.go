package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reparanda/internal/osm"
)

func r(kind osm.Kind, id int64, v int) *osm.Revision {
	return &osm.Revision{Kind: kind, ID: id, Version: v}
}

func TestPartition(t *testing.T) {
	revs := []*osm.Revision{
		r(osm.KindNode, 1, 2),
		r(osm.KindNode, 1, 3),
		r(osm.KindWay, 1, 4),
		r(osm.KindNode, 1, 5),
	}
	runs := Partition(revs)

	require.Len(t, runs, 3)
	assert.Equal(t, osm.EntityKey{Kind: osm.KindNode, ID: 1}, runs[0].Key)
	assert.Equal(t, []int{2, 3}, runs[0].Versions())
	assert.Equal(t, osm.EntityKey{Kind: osm.KindWay, ID: 1}, runs[1].Key)
	// Identity boundaries only: a later block of node 1 is its own run.
	assert.Equal(t, []int{5}, runs[2].Versions())
}

func TestPartition_Empty(t *testing.T) {
	assert.Empty(t, Partition(nil))
}

func TestSorted(t *testing.T) {
	revs := []*osm.Revision{
		r(osm.KindRelation, 3, 1),
		r(osm.KindWay, 9, 7),
		r(osm.KindNode, 20, 2),
		r(osm.KindWay, 9, 3),
		r(osm.KindNode, 4, 6),
		r(osm.KindWay, 9, 3),
	}
	runs := Sorted(revs)

	require.Len(t, runs, 4)
	assert.Equal(t, osm.EntityKey{Kind: osm.KindNode, ID: 4}, runs[0].Key)
	assert.Equal(t, osm.EntityKey{Kind: osm.KindNode, ID: 20}, runs[1].Key)
	assert.Equal(t, osm.EntityKey{Kind: osm.KindWay, ID: 9}, runs[2].Key)
	assert.Equal(t, []int{3, 7}, runs[2].Versions())
	assert.Equal(t, osm.KindRelation, runs[3].Key.Kind)

	// Input order untouched.
	assert.Equal(t, osm.KindRelation, revs[0].Kind)
}
