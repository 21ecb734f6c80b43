package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/reparanda/internal/canonical"
)

// Snapshot renders a result as canonical JSON. Only fields that describe the
// decision are included, so snapshots stay stable across logging changes.
func Snapshot(res *Result) ([]byte, error) {
	out := res.Outcome
	doc := map[string]any{
		"scenario": res.Name,
		"action":   actionOf(out),
	}
	switch {
	case out.IsCorrected():
		tags := make(map[string]any, len(out.Revision.Tags))
		for k, v := range out.Revision.Tags {
			tags[k] = v
		}
		credited := make([]any, len(out.Credited))
		for i, cs := range out.Credited {
			credited[i] = cs
		}
		doc["version"] = int64(out.Revision.Version)
		doc["tags"] = tags
		doc["credited"] = credited
	case out.Manual != nil:
		doc["manual"] = out.Manual.Reason
		doc["version"] = int64(out.Manual.Version)
	}
	return canonical.Marshal(doc)
}

// AssertGolden compares the snapshot of res against testdata/golden/<name>.golden.
// Run tests with -update to regenerate.
func AssertGolden(t *testing.T, name string, res *Result) {
	t.Helper()
	data, err := Snapshot(res)
	if err != nil {
		t.Fatalf("snapshot %s: %v", name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
