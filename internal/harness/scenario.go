package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reparanda/internal/osm"
	"github.com/roach88/reparanda/internal/policy"
)

// Expected actions.
const (
	ExpectCorrect  = "correct"
	ExpectNoAction = "no_action"
	ExpectManual   = "manual"
)

// Scenario defines one policy test case.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy selects and tunes the revert policy. An empty name selects the
	// name rule.
	Policy policy.Config `yaml:"policy"`

	// AutomaticConflictSolution defaults to true.
	AutomaticConflictSolution *bool `yaml:"automatic_conflict_solution,omitempty"`

	Entity EntityRef `yaml:"entity"`

	// History lists every version of the entity, oldest first.
	History []HistoryStep `yaml:"history"`

	// LatestStatus overrides the latest lookup: deleted, not_found or error.
	LatestStatus string `yaml:"latest_status,omitempty"`

	// Known are the versions supplied to the engine as input.
	Known []int `yaml:"known"`

	// Bad overrides the suppressed versions. Defaults to Known.
	Bad []int `yaml:"bad,omitempty"`

	Expect Expectation `yaml:"expect"`
}

// EntityRef names the entity of a scenario.
type EntityRef struct {
	Kind string `yaml:"kind"`
	ID   int64  `yaml:"id"`
}

// HistoryStep is one version of the entity.
type HistoryStep struct {
	Version   int               `yaml:"version"`
	Changeset int64             `yaml:"changeset"`
	User      string            `yaml:"user,omitempty"`
	Tags      map[string]string `yaml:"tags"`
	Redacted  bool              `yaml:"redacted,omitempty"`
	Visible   *bool             `yaml:"visible,omitempty"`
}

// Expectation is what the engine must decide.
type Expectation struct {
	Action   string            `yaml:"action"`
	Tags     map[string]string `yaml:"tags,omitempty"`
	Absent   []string          `yaml:"absent,omitempty"`
	Credited []int64           `yaml:"credited,omitempty"`
	Manual   string            `yaml:"manual,omitempty"`
}

var latestStatuses = map[string]osm.Status{
	"deleted":   osm.StatusDeleted,
	"not_found": osm.StatusNotFound,
	"error":     osm.StatusError,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// LoadDir loads every .yaml and .yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ParseScenario parses a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "histroy:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := osm.ParseKind(s.Entity.Kind); err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	if s.Entity.ID == 0 {
		return fmt.Errorf("entity: id is required")
	}
	if len(s.History) == 0 {
		return fmt.Errorf("history list is required and must be non-empty")
	}

	versions := make(map[int]HistoryStep, len(s.History))
	top := 0
	for i, h := range s.History {
		if h.Version < 1 {
			return fmt.Errorf("history[%d]: version must be positive", i)
		}
		if _, dup := versions[h.Version]; dup {
			return fmt.Errorf("history[%d]: duplicate version %d", i, h.Version)
		}
		versions[h.Version] = h
		if h.Version > top {
			top = h.Version
		}
	}
	if versions[top].Redacted && s.LatestStatus == "" {
		return fmt.Errorf("history: latest version %d cannot be redacted", top)
	}

	if s.LatestStatus != "" {
		if _, ok := latestStatuses[s.LatestStatus]; !ok {
			return fmt.Errorf("latest_status: unknown status %q", s.LatestStatus)
		}
	}

	if len(s.Known) == 0 {
		return fmt.Errorf("known list is required and must be non-empty")
	}
	for i, v := range s.Known {
		h, ok := versions[v]
		if !ok {
			return fmt.Errorf("known[%d]: version %d not in history", i, v)
		}
		if h.Redacted {
			return fmt.Errorf("known[%d]: version %d is redacted", i, v)
		}
	}

	switch s.Expect.Action {
	case ExpectCorrect:
		if len(s.Expect.Credited) == 0 {
			return fmt.Errorf("expect: credited is required for %s", ExpectCorrect)
		}
	case ExpectNoAction:
	case ExpectManual:
		if s.Expect.Manual == "" {
			return fmt.Errorf("expect: manual is required for %s", ExpectManual)
		}
	default:
		return fmt.Errorf("expect: unknown action %q", s.Expect.Action)
	}
	return nil
}
