// Package osm defines the revision model shared by every reparanda package.
//
// An entity (node, way or relation) is identified by its EntityKey and owns an
// append-only sequence of Revisions numbered from 1. Only the tag map of a
// revision is ever rewritten by a revert; coordinates, way node lists and
// relation members are carried through untouched.
//
// The package also decodes the two XML formats the tool consumes: plain OSM
// documents (API responses, history dumps) and osmChange files (the changesets
// being reverted).
package osm
