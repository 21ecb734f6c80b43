package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reparanda/internal/osm"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestBuilder_Golden(t *testing.T) {
	b := NewBuilder("bot", "reparanda/0.1.0", true)

	doc, err := b.Changeset("Revert <vandal> & co")
	require.NoError(t, err)
	golden(t).Assert(t, "changeset", doc)

	b.SetChangeset(99)
	tests := []struct {
		name string
		rev  *osm.Revision
	}{
		{"way", &osm.Revision{
			Kind: osm.KindWay, ID: 42, Version: 3, Visible: true,
			Nodes: []int64{1, 2},
			Tags:  osm.Tags{"name": `Main "Street"`, "highway": "residential"},
		}},
		{"node", &osm.Revision{
			Kind: osm.KindNode, ID: 7, Version: 2, Visible: true,
			Lat: 52.5, Lon: 13.25,
			Tags: osm.Tags{"amenity": "cafe"},
		}},
		{"relation", &osm.Revision{
			Kind: osm.KindRelation, ID: 3, Version: 5, Visible: true,
			Members: []osm.Member{
				{Type: osm.KindWay, Ref: 42, Role: "outer"},
				{Type: osm.KindNode, Ref: 7},
			},
			Tags: osm.Tags{"type": "multipolygon"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := b.Entity(tt.rev)
			require.NoError(t, err)
			golden(t).Assert(t, tt.name, doc)
		})
	}
}

func TestBuilder_ChangesetNotOpen(t *testing.T) {
	b := NewBuilder("bot", "x", false)
	_, err := b.Entity(&osm.Revision{Kind: osm.KindNode, ID: 1, Version: 1})
	assert.ErrorIs(t, err, ErrChangesetNotOpen)
}

func TestBuilder_TagTooLong(t *testing.T) {
	b := NewBuilder("bot", "x", false)
	b.SetChangeset(1)

	ok := &osm.Revision{Kind: osm.KindNode, ID: 1, Version: 1, Tags: osm.Tags{"note": strings.Repeat("ä", MaxTagLength)}}
	_, err := b.Entity(ok)
	require.NoError(t, err)

	long := &osm.Revision{Kind: osm.KindNode, ID: 1, Version: 1, Tags: osm.Tags{"note": strings.Repeat("a", MaxTagLength+1)}}
	_, err = b.Entity(long)
	assert.ErrorIs(t, err, ErrTagTooLong)
}

func TestBuilder_LongCommentTruncated(t *testing.T) {
	b := NewBuilder("bot", "x", false)
	doc, err := b.Changeset(strings.Repeat("c", 400))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `v="`+strings.Repeat("c", MaxTagLength)+`"`)
	assert.NotContains(t, string(doc), strings.Repeat("c", MaxTagLength+1))
	assert.NotContains(t, string(doc), "automatic_conflict_solution")
}

type call struct {
	op   string
	id   int64
	text string
}

type fakeAPI struct {
	next      int64
	calls     []call
	failOpen  error
	failWrite error
}

func (f *fakeAPI) CreateChangeset(_ context.Context, doc []byte) (int64, error) {
	if f.failOpen != nil {
		return 0, f.failOpen
	}
	f.next++
	f.calls = append(f.calls, call{op: "create", id: f.next})
	return f.next, nil
}

func (f *fakeAPI) UpdateEntity(_ context.Context, key osm.EntityKey, doc []byte) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.calls = append(f.calls, call{op: "update", id: key.ID, text: string(doc)})
	return nil
}

func (f *fakeAPI) CloseChangeset(_ context.Context, id int64) error {
	f.calls = append(f.calls, call{op: "close", id: id})
	return nil
}

func (f *fakeAPI) CommentChangeset(_ context.Context, id int64, text string) error {
	f.calls = append(f.calls, call{op: "comment", id: id, text: text})
	return nil
}

func (f *fakeAPI) ops() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = fmt.Sprintf("%s %d", c.op, c.id)
	}
	return out
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func node(id int64) *osm.Revision {
	return &osm.Revision{Kind: osm.KindNode, ID: id, Version: 2, Visible: true, Tags: osm.Tags{"name": "n"}}
}

func TestDispatcher_RollsOverChangesets(t *testing.T) {
	api := &fakeAPI{next: 100}
	d := New(api, Options{User: "bot", Comment: "revert", MaxChangesetSize: 2, CommentReverted: true, Logger: quiet()})
	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, node(1), []int64{7}))
	require.NoError(t, d.Submit(ctx, node(2), []int64{8}))
	require.NoError(t, d.Submit(ctx, node(3), []int64{7}))
	require.NoError(t, d.Finish(ctx))

	assert.Equal(t, []string{
		"create 101",
		"update 1",
		"update 2",
		"close 101",
		"comment 101",
		"create 102",
		"update 3",
		"close 102",
		"comment 102",
		"comment 7",
		"comment 8",
	}, api.ops())

	assert.Equal(t, CloseComment([]int64{7, 8}), api.calls[4].text)
	assert.Equal(t, CloseComment([]int64{7}), api.calls[8].text)
	assert.Equal(t, RevertedComment([]int64{101, 102}, "revert"), api.calls[9].text)
	assert.Contains(t, api.calls[1].text, `changeset="101"`)
	assert.Contains(t, api.calls[6].text, `changeset="102"`)
	assert.Equal(t, []int64{101, 102}, d.Used())
	assert.Equal(t, 3, d.Uploaded())
	assert.Zero(t, d.OpenChangeset())
}

func TestDispatcher_DryRun(t *testing.T) {
	api := &fakeAPI{}
	d := New(api, Options{DryRun: true, CommentReverted: true, Logger: quiet()})

	require.NoError(t, d.Submit(context.Background(), node(1), []int64{5}))
	require.NoError(t, d.Finish(context.Background()))

	assert.Empty(t, api.calls)
	assert.Equal(t, []int64{5}, d.Reverted())
	assert.Equal(t, 1, d.Uploaded())
}

func TestDispatcher_ReuseChangeset(t *testing.T) {
	api := &fakeAPI{}
	d := New(api, Options{ReuseChangeset: 555, Logger: quiet()})

	require.NoError(t, d.Submit(context.Background(), node(1), []int64{5}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []string{"update 1", "close 555", "comment 555"}, api.ops())
}

func TestDispatcher_OpenFailure(t *testing.T) {
	api := &fakeAPI{failOpen: errors.New("boom")}
	d := New(api, Options{Logger: quiet()})

	err := d.Submit(context.Background(), node(1), []int64{5})
	assert.ErrorIs(t, err, ErrCreateChangeset)
	assert.Empty(t, d.Reverted())
}

func TestDispatcher_UploadFailureNotCredited(t *testing.T) {
	api := &fakeAPI{failWrite: errors.New("409 conflict")}
	d := New(api, Options{Logger: quiet()})

	err := d.Submit(context.Background(), node(1), []int64{5})
	assert.Error(t, err)
	assert.Empty(t, d.Reverted())
	assert.Zero(t, d.Uploaded())
}

func TestDispatcher_CloseWithoutChangeset(t *testing.T) {
	api := &fakeAPI{}
	d := New(api, Options{Logger: quiet()})
	require.NoError(t, d.Finish(context.Background()))
	assert.Empty(t, api.calls)
}
