package osm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChange = `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6" generator="test">
  <create>
    <node id="10" version="1" changeset="100" user="alice" uid="1" timestamp="2024-01-02T03:04:05Z" lat="52.5" lon="13.4">
      <tag k="amenity" v="bench"/>
    </node>
  </create>
  <modify>
    <way id="42" version="3" changeset="101" user="bob" uid="2" timestamp="2024-01-03T00:00:00Z">
      <nd ref="10"/>
      <nd ref="11"/>
      <tag k="highway" v="residential"/>
      <tag k="name" v="Main Street (Town)"/>
    </way>
  </modify>
  <delete>
    <relation id="7" version="2" changeset="102" user="bob" uid="2">
      <member type="way" ref="42" role="outer"/>
    </relation>
  </delete>
</osmChange>`

func TestDecode_OsmChange(t *testing.T) {
	revs, err := Decode(strings.NewReader(sampleChange))
	require.NoError(t, err)
	require.Len(t, revs, 3)

	node := revs[0]
	assert.Equal(t, KindNode, node.Kind)
	assert.Equal(t, int64(10), node.ID)
	assert.Equal(t, 52.5, node.Lat)
	assert.Equal(t, 13.4, node.Lon)
	assert.True(t, node.Visible)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), node.Timestamp)
	assert.Equal(t, Tags{"amenity": "bench"}, node.Tags)

	way := revs[1]
	assert.Equal(t, EntityKey{KindWay, 42}, way.Key())
	assert.Equal(t, 3, way.Version)
	assert.Equal(t, int64(101), way.Changeset)
	assert.Equal(t, "bob", way.User)
	assert.Equal(t, int64(2), way.UID)
	assert.Equal(t, []int64{10, 11}, way.Nodes)
	assert.Equal(t, "Main Street (Town)", way.Tags["name"])

	rel := revs[2]
	assert.False(t, rel.Visible, "delete block marks revisions invisible")
	assert.Equal(t, []Member{{Type: KindWay, Ref: 42, Role: "outer"}}, rel.Members)
	assert.Empty(t, rel.Tags)
}

func TestDecode_OsmDocument(t *testing.T) {
	doc := `<osm version="0.6">
  <bounds minlat="0" minlon="0" maxlat="1" maxlon="1"/>
  <way id="1" version="4" changeset="9" visible="false"/>
  <node id="2" version="1" changeset="9" visible="true" lat="1" lon="2"/>
</osm>`
	revs, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, revs, 2)

	assert.Equal(t, KindWay, revs[0].Kind)
	assert.False(t, revs[0].Visible)
	assert.True(t, revs[1].Visible)
	assert.True(t, revs[0].Timestamp.IsZero())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"not xml", "this is not xml", "decode osm xml"},
		{"unexpected root", "<gpx/>", "unexpected root element <gpx>"},
		{"bad timestamp", `<osm><node id="1" version="1" timestamp="yesterday"/></osm>`, "bad timestamp"},
		{"bad lat", `<osm><node id="1" version="1" lat="north" lon="1"/></osm>`, "bad lat"},
		{"bad member", `<osm><relation id="1" version="1"><member type="area" ref="1" role=""/></relation></osm>`, "member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.osc")
	require.NoError(t, os.WriteFile(path, []byte(sampleChange), 0o600))

	revs, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, revs, 3)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.osc"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.osc")
	require.NoError(t, os.WriteFile(bad, []byte("<gpx/>"), 0o600))
	_, err = ReadFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}
