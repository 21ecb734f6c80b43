// Package config loads the reparanda configuration file.
//
// The file is YAML. It is validated against an embedded CUE schema before it
// is decoded, so type errors and unknown fields are reported with the field
// path. Defaults are applied after decoding and a few environment variables
// override the file.
package config

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reparanda/internal/dispatch"
	"github.com/roach88/reparanda/internal/osmapi"
	"github.com/roach88/reparanda/internal/policy"
)

// Version is reported in the default user agent and created_by tag.
var Version = "0.1.0"

// Environment variables that override the file.
const (
	EnvPassword = "REPARANDA_PASSWORD"
	EnvAPIURL   = "REPARANDA_API_URL"
	EnvJournal  = "REPARANDA_JOURNAL"
)

// Defaults.
const (
	DefaultFileName = ".reparanda.yaml"
	DefaultWorkers  = 4
	DefaultJournal  = "sqlite://reparanda.db"
)

var (
	// ErrInvalidConfig wraps schema and decoding failures.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrMissingPolicy is returned when the configured policy is not
	// registered.
	ErrMissingPolicy = errors.New("missing policy")
)

//go:embed schema.cue
var schemaCUE string

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// HTTP tunes the API client. Zero values select the client defaults.
type HTTP struct {
	Timeout    Duration `yaml:"timeout,omitempty"`
	MaxRetries *int     `yaml:"max_retries,omitempty"`
	BaseDelay  Duration `yaml:"base_delay,omitempty"`
	MaxDelay   Duration `yaml:"max_delay,omitempty"`
}

// Config is the decoded configuration file.
type Config struct {
	User                      string        `yaml:"user,omitempty"`
	UID                       int64         `yaml:"uid,omitempty"`
	Password                  string        `yaml:"password,omitempty"`
	UserAgent                 string        `yaml:"user_agent,omitempty"`
	APIURL                    string        `yaml:"api_url,omitempty"`
	DryRun                    bool          `yaml:"dry_run,omitempty"`
	ReuseChangeset            int64         `yaml:"reuse_changeset,omitempty"`
	CommentReverted           bool          `yaml:"comment_reverted,omitempty"`
	AutomaticConflictSolution *bool         `yaml:"automatic_conflict_solution,omitempty"`
	MaxChangesetSize          int           `yaml:"max_changeset_size,omitempty"`
	Workers                   int           `yaml:"workers,omitempty"`
	Journal                   string        `yaml:"journal,omitempty"`
	CacheRevisions            bool          `yaml:"cache_revisions,omitempty"`
	MetricsFile               string        `yaml:"metrics_file,omitempty"`
	HTTP                      HTTP          `yaml:"http,omitempty"`
	Policy                    policy.Config `yaml:"policy,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// DefaultPath returns ~/.reparanda.yaml, or the bare file name when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

// Load reads and validates the file at path. An empty path means the default
// location, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a YAML document and applies defaults.
func Parse(data []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// validate unifies doc with the #Config definition of the embedded schema.
func validate(doc any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, formatCUEError(err))
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, formatCUEError(err))
	}
	return nil
}

// formatCUEError joins the individual CUE errors into one line each.
func formatCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "reparanda/" + Version
	}
	if c.APIURL == "" {
		c.APIURL = osmapi.DefaultAPIURL
	}
	if c.MaxChangesetSize == 0 {
		c.MaxChangesetSize = dispatch.DefaultMaxChangesetSize
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Journal == "" {
		c.Journal = DefaultJournal
	}
	if c.Policy.Name == "" {
		c.Policy.Name = policy.NameRuleName
	}
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.APIURL = v
	}
	if v, ok := lookup(EnvJournal); ok && v != "" {
		c.Journal = v
	}
}

// AutoSolveConflicts reports whether interleaving edits are resolved by the
// engine. Defaults to true.
func (c *Config) AutoSolveConflicts() bool {
	return c.AutomaticConflictSolution == nil || *c.AutomaticConflictSolution
}

// BuildPolicy constructs the configured revert policy.
func (c *Config) BuildPolicy() (policy.Policy, error) {
	known := false
	for _, n := range policy.Names() {
		if n == c.Policy.Name {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrMissingPolicy, c.Policy.Name, strings.Join(policy.Names(), ", "))
	}
	p, err := policy.New(c.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return p, nil
}

// ClientOptions maps the file onto the API client options.
func (c *Config) ClientOptions() osmapi.Options {
	opts := osmapi.Options{
		BaseURL:   c.APIURL,
		User:      c.User,
		Password:  c.Password,
		UserAgent: c.UserAgent,
		Timeout:   time.Duration(c.HTTP.Timeout),
		BaseDelay: time.Duration(c.HTTP.BaseDelay),
		MaxDelay:  time.Duration(c.HTTP.MaxDelay),
	}
	if c.HTTP.MaxRetries != nil {
		opts.MaxRetries = *c.HTTP.MaxRetries
		if opts.MaxRetries == 0 {
			opts.MaxRetries = -1
		}
	}
	return opts
}

// EnsurePassword prompts for the password when uploads need one and none is
// configured. Dry runs never prompt.
func (c *Config) EnsurePassword(in io.Reader, out io.Writer) error {
	if c.DryRun || c.Password != "" {
		return nil
	}
	if c.User == "" {
		return fmt.Errorf("%w: user is required for uploads", ErrInvalidConfig)
	}
	fmt.Fprintf(out, "Password for %s: ", c.User)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return fmt.Errorf("read password: %w", err)
	}
	c.Password = strings.TrimRight(line, "\r\n")
	if c.Password == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidConfig)
	}
	return nil
}
