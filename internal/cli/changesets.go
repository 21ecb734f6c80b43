package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reparanda/internal/changesets"
	"github.com/roach88/reparanda/internal/osmapi"
)

// ChangesetsOptions holds flags for the changesets command.
type ChangesetsOptions struct {
	*RootOptions
	InputFile  string
	Download   bool
	User       string
	UID        int64
	Since      string
	To         string
	Regex      string
	Keys       string
	IgnoreCase bool
	Invert     bool
	OutputDir  string
}

// ChangesetsResult is the JSON payload of the changesets command.
type ChangesetsResult struct {
	Changesets []int64  `json:"changesets"`
	Files      []string `json:"files,omitempty"`
}

func (r ChangesetsResult) String() string {
	ids := make([]string, len(r.Changesets))
	for i, id := range r.Changesets {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(ids, "\n")
}

// NewChangesetsCommand creates the changesets command.
func NewChangesetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changesets",
		Short: "Select the changesets to revert",
		Long: `Filter changeset metadata by a regular expression over changeset tags.

Metadata is read from a file (--input-file) or downloaded page by page from
the API for one mapper (--download with exactly one of --user and --uid).
Matching changeset ids are printed; with --output-dir the osmChange
content of each match is saved as c<id>.osc, ready for 'reparanda revert'.

Examples:
  reparanda changesets -f changesets.osm -r "import" -i
  reparanda changesets -d --uid 1234 --since 2018-03-01T00:00:00 -o ./osc
  reparanda changesets -d --user vandal --since 2018-03-01T00:00:00 -r "^Revert" --invert`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChangesets(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input-file", "f", "", "XML file containing changeset metadata")
	cmd.Flags().BoolVarP(&opts.Download, "download-list", "d", false, "download the list of changesets from the API")
	cmd.Flags().StringVar(&opts.User, "user", "", "name of the mapper whose changesets are downloaded")
	cmd.Flags().Int64Var(&opts.UID, "uid", 0, "uid of the mapper whose changesets are downloaded")
	cmd.Flags().StringVar(&opts.Since, "since", "", "oldest creation time, format YYYY-mm-ddTHH:MM:SS")
	cmd.Flags().StringVar(&opts.To, "to", "", "newest creation time, format YYYY-mm-ddTHH:MM:SS (default now)")
	cmd.Flags().StringVarP(&opts.Regex, "regex", "r", "", "regular expression the tags are matched against")
	cmd.Flags().StringVarP(&opts.Keys, "keys", "k", "comment", "comma separated changeset tag keys to match")
	cmd.Flags().BoolVarP(&opts.IgnoreCase, "ignore-case", "i", false, "match case insensitively")
	cmd.Flags().BoolVar(&opts.Invert, "invert", false, "select changesets that do not match")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "save the osmChange content of every match into this directory")

	return cmd
}

func runChangesets(opts *ChangesetsOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions)
	out := newFormatter(opts.RootOptions, cmd)

	if (opts.InputFile == "") == !opts.Download {
		return NewExitError(ExitCommandError, "exactly one of --input-file and --download-list is required")
	}

	filter, err := changesets.NewFilter(opts.Regex, opts.IgnoreCase, strings.Split(opts.Keys, ","), opts.Invert)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create output directory", err)
		}
	}

	var client *osmapi.Client
	if opts.Download || opts.OutputDir != "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load configuration", err)
		}
		clientOpts := cfg.ClientOptions()
		clientOpts.Logger = logger
		client = osmapi.New(clientOpts)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := ChangesetsResult{Changesets: []int64{}}
	visit := func(cs changesets.Changeset) error {
		if !filter.Match(cs) {
			return nil
		}
		result.Changesets = append(result.Changesets, cs.ID)
		if opts.OutputDir == "" {
			return nil
		}
		path, err := changesets.Save(ctx, client, cs.ID, opts.OutputDir)
		if err != nil {
			return err
		}
		logger.Info("changeset saved", "changeset", cs.ID, "path", path)
		result.Files = append(result.Files, path)
		return nil
	}

	if opts.InputFile != "" {
		list, err := changesets.ReadFile(opts.InputFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read changeset metadata", err)
		}
		for _, cs := range list {
			if err := visit(cs); err != nil {
				return WrapExitError(ExitFailure, "failed to download changeset", err)
			}
		}
		return out.Success(result)
	}

	q, err := opts.query()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid download query", err)
	}
	if err := changesets.List(ctx, client, q, logger, visit); err != nil {
		return WrapExitError(ExitFailure, "failed to download changesets", err)
	}
	return out.Success(result)
}

func (o *ChangesetsOptions) query() (changesets.Query, error) {
	q := changesets.Query{User: o.User, UID: o.UID}
	if (q.User == "") == (q.UID == 0) {
		return q, changesets.ErrAmbiguousUser
	}
	if o.Since == "" {
		return q, fmt.Errorf("--since is required")
	}
	since, err := time.Parse(changesets.TimeFormat, o.Since)
	if err != nil {
		return q, fmt.Errorf("--since: %w", err)
	}
	q.Since = since
	if o.To != "" {
		to, err := time.Parse(changesets.TimeFormat, o.To)
		if err != nil {
			return q, fmt.Errorf("--to: %w", err)
		}
		q.To = to
	}
	return q, nil
}
