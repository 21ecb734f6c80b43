package revert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reparanda/internal/dispatch"
	"github.com/roach88/reparanda/internal/history"
	"github.com/roach88/reparanda/internal/osm"
	"github.com/roach88/reparanda/internal/osmapi"
	"github.com/roach88/reparanda/internal/policy"
	"github.com/roach88/reparanda/internal/reconcile"
	"github.com/roach88/reparanda/internal/store"
	"github.com/roach88/reparanda/internal/testutil"
)

type fakeAPI struct {
	mu       sync.Mutex
	next     int64
	ops      []string
	failOpen error
	failPut  map[int64]error
}

func (f *fakeAPI) CreateChangeset(context.Context, []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen != nil {
		return 0, f.failOpen
	}
	f.next++
	f.ops = append(f.ops, fmt.Sprintf("create %d", f.next))
	return f.next, nil
}

func (f *fakeAPI) UpdateEntity(_ context.Context, key osm.EntityKey, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPut[key.ID]; err != nil {
		return err
	}
	f.ops = append(f.ops, "update "+key.String())
	return nil
}

func (f *fakeAPI) CloseChangeset(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("close %d", id))
	return nil
}

func (f *fakeAPI) CommentChangeset(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("comment %d", id))
	return nil
}

// fixture holds three entities: way 42 was renamed in changeset 20, way 43
// got a harmless extra tag, way 44 was created with a suspicious name.
func fixture() (*history.Memory, []*osm.Revision) {
	mem := history.NewMemory(
		testutil.Way(42, 1, testutil.Highway("Main Street")),
		testutil.Way(42, 2, testutil.Highway("Spam (vandal)")),
		testutil.Way(43, 1, testutil.Highway("High Street")),
		testutil.Way(43, 2, osm.Tags{"highway": "residential", "name": "High Street", "surface": "asphalt"}),
		testutil.Way(44, 1, testutil.Highway("Foo (bar)")),
	)
	input := []*osm.Revision{
		testutil.Way(44, 1, testutil.Highway("Foo (bar)")),
		testutil.Way(42, 2, testutil.Highway("Spam (vandal)")),
		testutil.Way(43, 2, osm.Tags{"highway": "residential", "name": "High Street", "surface": "asphalt"}),
	}
	return mem, input
}

type harness struct {
	api     *fakeAPI
	journal *store.SQLite
	runner  *Runner
}

var runStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, src reconcile.Source, journal *store.SQLite, dryRun bool, ids ...string) *harness {
	t.Helper()
	p, err := policy.NewNameRule("", nil, "")
	require.NoError(t, err)
	engine := reconcile.New(src, p, reconcile.WithLogger(testutil.QuietLogger()))

	api := &fakeAPI{next: 900}
	d := dispatch.New(api, dispatch.Options{User: "bot", Comment: "revert spam", DryRun: dryRun, Logger: testutil.QuietLogger()})
	if len(ids) == 0 {
		ids = []string{"run-1"}
	}
	opts := Options{
		Workers: 3,
		Comment: "revert spam",
		DryRun:  dryRun,
		IDs:     NewFixedGenerator(ids...),
		Now:     testutil.NewClock(runStart, time.Minute).Now,
		Logger:  testutil.QuietLogger(),
	}
	if journal != nil {
		opts.Journal = journal
	}
	return &harness{api: api, journal: journal, runner: New(engine, d, opts)}
}

func openJournal(t *testing.T) *store.SQLite {
	t.Helper()
	j, err := store.OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRun_ReconcilesAndUploads(t *testing.T) {
	mem, input := fixture()
	h := newHarness(t, mem, openJournal(t), false)

	sum, err := h.runner.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 3, sum.Entities)
	assert.Equal(t, 1, sum.Corrected)
	assert.Equal(t, 1, sum.NoAction)
	assert.Equal(t, 1, sum.Manual)
	assert.Equal(t, []int64{20}, sum.Credited)
	assert.Equal(t, []int64{901}, sum.Changesets)
	require.Len(t, sum.ManualReviews, 1)
	assert.Contains(t, sum.ManualReviews[0], "way 44")

	assert.Equal(t, []string{"create 901", "update way 42", "close 901", "comment 901"}, h.api.ops)

	ctx := context.Background()
	outcomes, err := h.journal.Outcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, int64(42), outcomes[0].Key.ID)
	assert.Equal(t, store.ActionCorrected, outcomes[0].Action)
	assert.True(t, outcomes[0].Uploaded)
	assert.NotEmpty(t, outcomes[0].ContentHash)
	assert.Equal(t, store.ActionNone, outcomes[1].Action)
	assert.Equal(t, store.ActionManual, outcomes[2].Action)

	credited, err := h.journal.Credited(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, credited)

	reviews, err := h.journal.ManualReviews(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, reconcile.ReasonSuspiciousV1, reviews[0].Reason)

	run, err := h.journal.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "name", run.Policy)
	assert.True(t, run.StartedAt.Equal(runStart))
	assert.True(t, run.FinishedAt.Equal(runStart.Add(time.Minute)))

	expected := `
# HELP reparanda_credited_changesets_total Distinct changesets credited as reverted.
# TYPE reparanda_credited_changesets_total counter
reparanda_credited_changesets_total 1
# HELP reparanda_changesets_opened_total Changesets opened for uploads.
# TYPE reparanda_changesets_opened_total counter
reparanda_changesets_opened_total 1
`
	err = promtest.GatherAndCompare(h.runner.Metrics().Registry(), strings.NewReader(expected),
		"reparanda_credited_changesets_total", "reparanda_changesets_opened_total")
	assert.NoError(t, err)
}

func TestRun_ResumeSkipsUploadedCorrections(t *testing.T) {
	mem, input := fixture()
	journal := openJournal(t)

	first := newHarness(t, mem, journal, false, "run-1")
	_, err := first.runner.Run(context.Background(), input)
	require.NoError(t, err)

	second := newHarness(t, mem, journal, false, "run-2")
	sum, err := second.runner.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Corrected)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, sum.Credited)
	assert.Empty(t, second.api.ops, "nothing uploaded on resume")

	outcomes, err := journal.Outcomes(context.Background(), "run-2")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, store.ActionSkipped, outcomes[0].Action)
}

func TestRun_DryRun(t *testing.T) {
	mem, input := fixture()
	journal := openJournal(t)
	h := newHarness(t, mem, journal, true)

	sum, err := h.runner.Run(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Corrected)
	assert.Equal(t, []int64{20}, sum.Credited)
	assert.Empty(t, h.api.ops)

	outcomes, err := journal.Outcomes(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, outcomes[0].Uploaded, "dry run corrections are not marked uploaded")

	// A later real run must still upload.
	live := newHarness(t, mem, journal, false, "run-2")
	sum, err = live.runner.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Corrected)
}

func TestRun_WithoutJournal(t *testing.T) {
	mem, input := fixture()
	h := newHarness(t, mem, nil, false)

	sum, err := h.runner.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Corrected)
}

func TestRun_ChangesetOpenFailureIsFatal(t *testing.T) {
	mem, input := fixture()
	h := newHarness(t, mem, openJournal(t), false)
	h.api.failOpen = osmapi.ErrUnauthorized

	sum, err := h.runner.Run(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrCreateChangeset)
	assert.ErrorIs(t, err, osmapi.ErrUnauthorized)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Entities, "nothing is written after a fatal error")
	assert.Empty(t, sum.Credited)

	outcomes, err := h.journal.Outcomes(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.ActionFailed, outcomes[0].Action)
}

func TestRun_UploadFailureContinues(t *testing.T) {
	mem, input := fixture()
	mem.Add(testutil.Way(45, 1, testutil.Highway("Oak Lane")), testutil.Way(45, 2, testutil.Highway("Oak Lane")), testutil.Way(45, 3, testutil.Highway("Eggs (vandal)")))
	input = append(input, testutil.Way(45, 3, testutil.Highway("Eggs (vandal)")))
	h := newHarness(t, mem, openJournal(t), false)
	h.api.failPut = map[int64]error{42: errors.New("conflict")}

	sum, err := h.runner.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Corrected)
	assert.Equal(t, []int64{30}, sum.Credited, "only the uploaded correction is credited")
	assert.Contains(t, h.api.ops, "update way 45")
}

func TestRun_PreservesInputOrderAcrossWorkers(t *testing.T) {
	mem := history.NewMemory()
	var input []*osm.Revision
	for id := int64(100); id < 130; id++ {
		mem.Add(testutil.Way(id, 1, testutil.Highway("Street")), testutil.Way(id, 2, testutil.Highway("Bad (x)")))
		input = append([]*osm.Revision{testutil.Way(id, 2, testutil.Highway("Bad (x)"))}, input...)
	}
	h := newHarness(t, mem, openJournal(t), false)

	sum, err := h.runner.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 30, sum.Corrected)

	var updates []string
	for _, op := range h.api.ops {
		if strings.HasPrefix(op, "update") {
			updates = append(updates, op)
		}
	}
	require.Len(t, updates, 30)
	for i, op := range updates {
		assert.Equal(t, fmt.Sprintf("update way %d", 100+i), op)
	}

	outcomes, err := h.journal.Outcomes(context.Background(), "run-1")
	require.NoError(t, err)
	for i, o := range outcomes {
		assert.Equal(t, i+1, o.Seq)
		assert.Equal(t, int64(100+i), o.Key.ID)
	}
}

func TestRun_CancelledClosesChangeset(t *testing.T) {
	mem, input := fixture()
	h := newHarness(t, mem, openJournal(t), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.runner.Run(ctx, input)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Interrupted)
	assert.LessOrEqual(t, sum.Entities, 3)

	// Whatever was opened has been closed.
	opened, closed := 0, 0
	for _, op := range h.api.ops {
		switch {
		case strings.HasPrefix(op, "create"):
			opened++
		case strings.HasPrefix(op, "close"):
			closed++
		}
	}
	assert.Equal(t, opened, closed)

	run, err := h.journal.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	osc := `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6">
  <modify>
    <way id="42" version="2" changeset="20" user="vandal" uid="9" timestamp="2024-01-02T03:04:05Z">
      <nd ref="1"/><nd ref="2"/>
      <tag k="highway" v="residential"/>
      <tag k="name" v="Spam (vandal)"/>
    </way>
  </modify>
  <delete>
    <node id="7" version="3" changeset="20" lat="1.5" lon="2.5"/>
  </delete>
</osmChange>`
	path := filepath.Join(dir, "input.osc")
	require.NoError(t, os.WriteFile(path, []byte(osc), 0o600))

	revs, err := ReadInputs([]string{path})
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, osm.KindWay, revs[0].Kind)
	assert.Equal(t, "Spam (vandal)", revs[0].Tags["name"])
	assert.False(t, revs[1].Visible)

	_, err = ReadInputs(nil)
	assert.Error(t, err)
	_, err = ReadInputs([]string{filepath.Join(dir, "missing.osc")})
	assert.Error(t, err)
}

func TestFilterByUID(t *testing.T) {
	revs := []*osm.Revision{
		{Kind: osm.KindWay, ID: 1, Version: 2, UID: 9},
		{Kind: osm.KindWay, ID: 2, Version: 4, UID: 3},
		{Kind: osm.KindNode, ID: 5, Version: 2, UID: 9},
	}

	kept := FilterByUID(revs, 9)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].ID)
	assert.Equal(t, int64(5), kept[1].ID)
	assert.Len(t, revs, 3, "input slice is not modified")
	assert.Equal(t, int64(2), revs[1].ID)

	assert.Len(t, FilterByUID(revs, 0), 3)
	assert.Empty(t, FilterByUID(revs, 42))
}

func TestSummary_String(t *testing.T) {
	s := newSummary("run-7", true)
	s.Entities = 3
	s.Corrected = 1
	s.credit([]int64{30, 20, 30})
	s.ManualReviews = []string{"way 44 v1: version 1 carries the damage signature"}

	out := s.String()
	assert.Contains(t, out, "Revert run run-7 (dry run)")
	assert.Contains(t, out, "credited:   20, 30")
	assert.Contains(t, out, "changesets: none")
	assert.Contains(t, out, "review: way 44 v1")
	assert.NotContains(t, out, "skipped")
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })

	id := UUIDv7Generator{}.Generate()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
}
