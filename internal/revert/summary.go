package revert

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Summary reports what a run did.
type Summary struct {
	RunID         string   `json:"run_id"`
	DryRun        bool     `json:"dry_run"`
	Entities      int      `json:"entities"`
	Corrected     int      `json:"corrected"`
	NoAction      int      `json:"no_action"`
	Manual        int      `json:"manual"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	Credited      []int64  `json:"credited"`
	Changesets    []int64  `json:"changesets"`
	ManualReviews []string `json:"manual_reviews,omitempty"`
	Interrupted   bool     `json:"interrupted,omitempty"`

	credited map[int64]struct{}
}

func newSummary(runID string, dryRun bool) *Summary {
	return &Summary{
		RunID:      runID,
		DryRun:     dryRun,
		Credited:   []int64{},
		Changesets: []int64{},
		credited:   make(map[int64]struct{}),
	}
}

func (s *Summary) credit(ids []int64) {
	for _, id := range ids {
		if _, ok := s.credited[id]; ok {
			continue
		}
		s.credited[id] = struct{}{}
		s.Credited = append(s.Credited, id)
	}
	sort.Slice(s.Credited, func(i, j int) bool { return s.Credited[i] < s.Credited[j] })
}

// String renders the summary for the text output format.
func (s *Summary) String() string {
	var b strings.Builder
	title := "Revert run " + s.RunID
	if s.DryRun {
		title += " (dry run)"
	}
	if s.Interrupted {
		title += " (interrupted)"
	}
	fmt.Fprintln(&b, title)
	fmt.Fprintf(&b, "  entities:   %d\n", s.Entities)
	fmt.Fprintf(&b, "  corrected:  %d\n", s.Corrected)
	fmt.Fprintf(&b, "  no action:  %d\n", s.NoAction)
	fmt.Fprintf(&b, "  manual:     %d\n", s.Manual)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "  skipped:    %d\n", s.Skipped)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "  failed:     %d\n", s.Failed)
	}
	fmt.Fprintf(&b, "  credited:   %s\n", joinOrNone(s.Credited))
	fmt.Fprintf(&b, "  changesets: %s", joinOrNone(s.Changesets))
	for _, m := range s.ManualReviews {
		fmt.Fprintf(&b, "\n  review: %s", m)
	}
	return b.String()
}

func joinOrNone(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
