package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reparanda/internal/osm"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"int64 array", []int64{3, 1}, "[3,1]"},
		{"string map", map[string]string{"b": "2", "a": "1"}, `{"a":"1","b":"2"}`},
		{"nested", map[string]any{"z": []any{"x", false}, "a": map[string]any{}}, `{"a":{},"z":["x",false]}`},
		{"no html escaping", "<a & b>", `"<a & b>"`},
		{"control chars", "a\nb", `"a\nb"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"escaped backslash before u2028 text", `\u2028`, `"\\u2028"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalRejects(t *testing.T) {
	_, err := Marshal(nil)
	assert.Error(t, err)
	_, err = Marshal(1.5)
	assert.ErrorContains(t, err, "floats")
	_, err = Marshal(map[string]any{"x": struct{}{}})
	assert.ErrorContains(t, err, "unsupported")
}

func TestMarshalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to a single code point.
	out, err := Marshal("Cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"Caf\u00e9\"", string(out))
}

func TestMarshalUTF16KeyOrder(t *testing.T) {
	// U+1F600 is a surrogate pair (0xD83D...) and sorts before U+FF61 in
	// UTF-16 although its UTF-8 encoding sorts after.
	out, err := Marshal(map[string]any{"\uFF61": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFF61\":1}", string(out))
}

func TestCorrectionHash(t *testing.T) {
	rev := &osm.Revision{
		Kind: osm.KindWay, ID: 1, Version: 3, Visible: true,
		Changeset: 10, User: "someone",
		Nodes: []int64{1, 2},
		Tags:  osm.Tags{"name": "A", "highway": "residential"},
	}
	h1, err := CorrectionHash(rev)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	// Metadata does not take part in the correction hash.
	other := rev.Clone()
	other.Changeset = 99
	other.User = "else"
	h2, err := CorrectionHash(other)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	changed := rev.WithTags(osm.Tags{"name": "B", "highway": "residential"})
	h3, err := CorrectionHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	r1, err := RevisionHash(rev)
	require.NoError(t, err)
	r2, err := RevisionHash(other)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)
	assert.NotEqual(t, h1, r1)
}

func TestDocumentNode(t *testing.T) {
	doc := Document(&osm.Revision{Kind: osm.KindNode, ID: 5, Version: 1, Lat: 1.25, Lon: -3})
	assert.Equal(t, "1.2500000", doc["lat"])
	assert.Equal(t, "-3.0000000", doc["lon"])
	_, err := Marshal(doc)
	require.NoError(t, err)
}
