package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/reparanda/internal/config"
	"github.com/roach88/reparanda/internal/dispatch"
	"github.com/roach88/reparanda/internal/metrics"
	"github.com/roach88/reparanda/internal/osmapi"
	"github.com/roach88/reparanda/internal/reconcile"
	"github.com/roach88/reparanda/internal/revert"
	"github.com/roach88/reparanda/internal/store"
)

// RevertOptions holds flags for the revert command.
type RevertOptions struct {
	*RootOptions
	Policy          string
	DryRun          bool
	Workers         int
	Journal         string
	ReuseChangeset  int64
	BadUID          int64
	MetricsFile     string
	CommentReverted bool
	NoCache         bool

	// IDs overrides the run id generator (for testing).
	IDs revert.IDGenerator
}

// NewRevertCommand creates the revert command.
func NewRevertCommand(rootOpts *RootOptions) *cobra.Command {
	return newRevertCommand(&RevertOptions{RootOptions: rootOpts})
}

func newRevertCommand(opts *RevertOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <comment> <input-file>...",
		Short: "Revert damaging edits listed in osmChange or OSM files",
		Long: `Revert the damaging edits contained in the input files.

Every entity in the input is reconciled against its full history with the
configured revert policy. Corrected versions are uploaded in changesets
carrying <comment>; entities that need a human are listed for manual review.

Outcomes are journaled, so an interrupted run can be restarted with the same
input: corrections that were already uploaded are skipped.

Exit codes:
  0 - Run completed
  1 - Run failed or was interrupted, or the configuration is invalid
  2 - Command error (unreadable input, journal unavailable, etc.)

Examples:
  reparanda revert "Revert vandalism" c1234.osc c1235.osc
  reparanda revert --dry-run --format json "Revert import" import.osc
  reparanda revert --policy restore-deleted --bad-uid 42 "Restore wikidata" *.osc`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevert(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Policy, "policy", "p", "", "revert policy (see 'reparanda policies')")
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "log uploads instead of performing them")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "parallel reconciliation workers")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal DSN (sqlite://path, postgres://..., memory://)")
	cmd.Flags().Int64Var(&opts.ReuseChangeset, "reuse-changeset", 0, "upload into this already open changeset")
	cmd.Flags().Int64Var(&opts.BadUID, "bad-uid", 0, "only revert revisions made by this user id")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write run metrics in Prometheus text format")
	cmd.Flags().BoolVar(&opts.CommentReverted, "comment-reverted", false, "comment on every reverted changeset after the run")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "do not cache historical revisions in the journal")

	return cmd
}

// applyFlags lets explicitly set flags override the configuration file.
func (o *RevertOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.Policy.Name = o.Policy
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = o.DryRun
	}
	if flags.Changed("workers") && o.Workers > 0 {
		cfg.Workers = o.Workers
	}
	if flags.Changed("journal") {
		cfg.Journal = o.Journal
	}
	if flags.Changed("reuse-changeset") {
		cfg.ReuseChangeset = o.ReuseChangeset
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = o.MetricsFile
	}
	if flags.Changed("comment-reverted") {
		cfg.CommentReverted = o.CommentReverted
	}
	if flags.Changed("no-cache") {
		cfg.CacheRevisions = !o.NoCache
	}
}

func runRevert(opts *RevertOptions, comment string, files []string, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions)
	out := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load configuration", err)
	}
	opts.applyFlags(cmd, cfg)

	p, err := cfg.BuildPolicy()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build revert policy", err)
	}

	revs, err := revert.ReadInputs(files)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	revs = revert.FilterByUID(revs, opts.BadUID)
	slog.Info("input read", "files", len(files), "revisions", len(revs))

	if err := cfg.EnsurePassword(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
		return WrapExitError(ExitFailure, "no credentials", err)
	}

	m := metrics.New()
	clientOpts := cfg.ClientOptions()
	clientOpts.Logger = logger
	clientOpts.Observer = m.ObserveHTTP
	client := osmapi.New(clientOpts)

	var journal store.Journal
	if cfg.Journal != "" {
		slog.Info("opening journal", "dsn", redactDSN(cfg.Journal))
		journal, err = store.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := journal.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
	}

	var source reconcile.Source = client
	if cfg.CacheRevisions && journal != nil {
		source = store.NewCachedSource(client, journal, logger)
	}
	engine := reconcile.New(source, p,
		reconcile.WithLogger(logger),
		reconcile.WithAutomaticConflictSolution(cfg.AutoSolveConflicts()),
	)
	uploader := dispatch.New(client, dispatch.Options{
		User:                      cfg.User,
		CreatedBy:                 cfg.UserAgent,
		Comment:                   comment,
		MaxChangesetSize:          cfg.MaxChangesetSize,
		DryRun:                    cfg.DryRun,
		ReuseChangeset:            cfg.ReuseChangeset,
		AutomaticConflictSolution: cfg.AutoSolveConflicts(),
		CommentReverted:           cfg.CommentReverted,
		Logger:                    logger,
	})
	runner := revert.New(engine, uploader, revert.Options{
		Workers:    cfg.Workers,
		Comment:    comment,
		PolicyName: p.Name(),
		DryRun:     cfg.DryRun,
		Journal:    journal,
		Metrics:    m,
		IDs:        opts.IDs,
		Logger:     logger,
	})

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, finishing in-flight entities", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sum, runErr := runner.Run(ctx, revs)

	if cfg.MetricsFile != "" {
		if err := m.WriteFile(cfg.MetricsFile); err != nil {
			slog.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	switch {
	case runErr == nil:
		return out.Success(sum)
	case errors.Is(runErr, context.Canceled):
		if err := out.Partial(sum, CodeInterrupted, "run interrupted"); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "run interrupted")
	default:
		if err := out.Partial(sum, CodeRun, runErr.Error()); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "revert failed", runErr)
	}
}

// redactDSN hides a password in a journal DSN before it is logged.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
