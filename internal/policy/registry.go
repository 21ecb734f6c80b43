package policy

import (
	"fmt"
	"sort"
)

// Registry names of the built-in policies.
const (
	NameRuleName     = "name"
	DeletionRuleName = "restore-deleted"
)

// Config carries the tunables of every built-in policy. Each policy reads
// only the fields that concern it.
type Config struct {
	Name              string   `yaml:"name" json:"name"`
	Key               string   `yaml:"key,omitempty" json:"key,omitempty"`
	ScopeKeys         []string `yaml:"scope_keys,omitempty" json:"scope_keys,omitempty"`
	SuspiciousPattern string   `yaml:"suspicious_pattern,omitempty" json:"suspicious_pattern,omitempty"`
	RestoreKeys       []string `yaml:"restore_keys,omitempty" json:"restore_keys,omitempty"`
}

// Builder constructs a policy from its configuration.
type Builder func(Config) (Policy, error)

var builders = map[string]Builder{
	NameRuleName: func(c Config) (Policy, error) {
		return NewNameRule(c.Key, c.ScopeKeys, c.SuspiciousPattern)
	},
	DeletionRuleName: func(c Config) (Policy, error) {
		return NewDeletionRule(c.RestoreKeys), nil
	},
}

// Descriptions are shown by the CLI's policies command.
var descriptions = map[string]string{
	NameRuleName:     "restore an overwritten attribute (default name) on in-scope entities (default highway=*)",
	DeletionRuleName: "restore deleted tags (default wikipedia, wikidata, source, source:geometry and their subkeys)",
}

// New builds the policy named by cfg.Name. An empty name selects the name
// rule.
func New(cfg Config) (Policy, error) {
	name := cfg.Name
	if name == "" {
		name = NameRuleName
	}
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q (available: %v)", name, Names())
	}
	return build(cfg)
}

// Names returns the registered policy names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one-line description of a registered policy.
func Describe(name string) string {
	return descriptions[name]
}
