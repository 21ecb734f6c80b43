package changesets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	cs, err := ReadFile(filepath.Join("testdata", "changesets.osm"))
	require.NoError(t, err)
	require.Len(t, cs, 3)

	assert.Equal(t, int64(301), cs[0].ID)
	assert.Equal(t, "vandal", cs[0].User)
	assert.Equal(t, int64(99), cs[0].UID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), cs[0].CreatedAt)
	assert.Equal(t, "Fix names (spam)", cs[0].Tags["comment"])
	assert.True(t, cs[1].Open)
	assert.Empty(t, cs[2].Tags)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader("<osm><changeset"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`<osm><changeset id="1" created_at="yesterday"/></osm>`))
	assert.ErrorContains(t, err, "created_at")
}

func TestFilter(t *testing.T) {
	cs, err := ReadFile(filepath.Join("testdata", "changesets.osm"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		pattern    string
		ignoreCase bool
		keys       []string
		invert     bool
		want       []int64
	}{
		{"no pattern", "", false, nil, false, []int64{301, 302, 303}},
		{"comment", `\(spam\)`, false, nil, false, []int64{301}},
		{"case sensitive miss", "SPAM", false, nil, false, nil},
		{"ignore case", "spam", true, []string{"comment", "source"}, false, []int64{301, 302}},
		{"other key", "SPAM", false, []string{"source"}, false, []int64{302}},
		{"invert", "spam", false, nil, true, []int64{302, 303}},
		{"invert over keys", "spam", true, []string{"comment", "source"}, true, []int64{301, 302, 303}},
		{"blank keys default to comment", "survey", false, []string{" ", ""}, false, []int64{302}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.pattern, tt.ignoreCase, tt.keys, tt.invert)
			require.NoError(t, err)
			var got []int64
			for _, c := range cs {
				if f.Match(c) {
					got = append(got, c.ID)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = NewFilter("(", false, nil, false)
	assert.Error(t, err)
}

// pagedAPI serves changeset pages keyed by the upper bound of the time
// window.
type pagedAPI struct {
	pages   map[string]string
	queries []url.Values
	osc     map[int64]string
}

func (p *pagedAPI) QueryChangesets(_ context.Context, q url.Values) ([]byte, error) {
	p.queries = append(p.queries, q)
	bounds := strings.Split(q.Get("time"), ",")
	return []byte(p.pages[bounds[1]]), nil
}

func (p *pagedAPI) DownloadChangeset(_ context.Context, id int64) ([]byte, error) {
	doc, ok := p.osc[id]
	if !ok {
		return nil, fmt.Errorf("changeset %d: not found", id)
	}
	return []byte(doc), nil
}

func page(ids ...int64) string {
	var b strings.Builder
	b.WriteString("<osm>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<changeset id="%d" created_at="2024-03-%02dT00:00:00Z"/>`, id, id)
	}
	b.WriteString("</osm>")
	return b.String()
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestList_PagesBackwards(t *testing.T) {
	// Changeset n was created on March n.
	api := &pagedAPI{pages: map[string]string{
		"2024-04-01T00:00:00": page(20, 15, 10),
		"2024-03-10T00:00:00": page(10, 5, 3),
		"2024-03-03T00:00:00": page(),
	}}
	q := Query{
		User:  "vandal",
		Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	var got []int64
	err := List(context.Background(), api, q, quiet(), func(cs Changeset) error {
		got = append(got, cs.ID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{20, 15, 10, 5, 3}, got)
	require.Len(t, api.queries, 3)
	assert.Equal(t, "vandal", api.queries[0].Get("display_name"))
	assert.Equal(t, "2024-03-01T00:00:00,2024-04-01T00:00:00", api.queries[0].Get("time"))
}

func TestList_StopsWhenWindowDoesNotMove(t *testing.T) {
	api := &pagedAPI{pages: map[string]string{
		"2024-04-01T00:00:00": page(7),
		"2024-03-07T00:00:00": page(7),
	}}
	q := Query{UID: 99, Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}

	var got []int64
	err := List(context.Background(), api, q, quiet(), func(cs Changeset) error {
		got = append(got, cs.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got)
	assert.Equal(t, "99", api.queries[0].Get("user"))
	assert.Len(t, api.queries, 2)
}

func TestList_Validation(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := since.Add(time.Hour)
	noop := func(Changeset) error { return nil }

	tests := []struct {
		name string
		q    Query
		want error
	}{
		{"neither user nor uid", Query{Since: since, To: to}, ErrAmbiguousUser},
		{"both user and uid", Query{User: "a", UID: 1, Since: since, To: to}, ErrAmbiguousUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := List(context.Background(), &pagedAPI{}, tt.q, quiet(), noop)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := List(context.Background(), &pagedAPI{}, Query{User: "a", Since: to, To: since}, quiet(), noop)
	assert.Error(t, err)
	err = List(context.Background(), &pagedAPI{}, Query{User: "a"}, quiet(), noop)
	assert.Error(t, err)
}

func TestList_CallbackErrorStops(t *testing.T) {
	api := &pagedAPI{pages: map[string]string{"2024-04-01T00:00:00": page(20, 15)}}
	q := Query{User: "vandal", Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}
	boom := errors.New("boom")

	calls := 0
	err := List(context.Background(), api, q, quiet(), func(Changeset) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	api := &pagedAPI{osc: map[int64]string{301: "<osmChange/>"}}

	path, err := Save(context.Background(), api, 301, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c301.osc"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<osmChange/>", string(data))

	_, err = Save(context.Background(), api, 302, dir)
	assert.Error(t, err)
}
