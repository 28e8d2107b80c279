package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
	"github.com/masoudn84/npm-offline-package-mirror/internal/config"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
	"github.com/masoudn84/npm-offline-package-mirror/internal/faillog"
	"github.com/masoudn84/npm-offline-package-mirror/internal/pack"
	"github.com/masoudn84/npm-offline-package-mirror/internal/pipeline"
	"github.com/masoudn84/npm-offline-package-mirror/internal/publish"
	"github.com/masoudn84/npm-offline-package-mirror/internal/resolve"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	addRunFlags(publishCmd.Flags())
	f := publishCmd.Flags()
	f.Int("workers", config.DefaultWorkers, "Number of packages processed concurrently")
	f.Bool("dry-run", false, "Run npm publish with --dry-run")
	f.Int("timeout", config.DefaultOpTimeoutSeconds, "Timeout in seconds for each npm or download operation")
	f.Bool("recurse", false, "Also look for packages nested inside discovered packages")
	f.String("failure-log", config.DefaultFailureLog, "Append failed packages to this JSON-lines file")
	f.String("lookup", config.LookupNPM, "Fallback lookup strategy: npm or http")
	f.String("upstream-url", config.DefaultUpstreamURL, "Registry to fetch published tarballs from when packing fails")
	f.Bool("keep-archives", false, "Keep staged tarballs after they are published")
	f.String("tag", "", "Dist-tag to publish under")
	f.String("access", "", "Publish access: public or restricted")
	rootCmd.AddCommand(publishCmd)
}

// addRunFlags registers the flags shared by publish and doctor.
func addRunFlags(f *pflag.FlagSet) {
	f.String("root", config.DefaultRoot, "Directory tree to scan for packages")
	f.String("registry-url", "", "Registry to publish to")
	f.String("staging-dir", config.DefaultStagingDir, "Scratch directory for tarballs")
	f.String("npm-command", config.DefaultNPMCommand, `npm command line, e.g. "npx -y npm@10"`)
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Pack and publish every package under a directory tree",
	Long: `Walk --root (a node_modules directory by default) and publish every package
found to --registry-url. A package that cannot be packed locally is fetched
from the upstream registry instead. Versions the registry already holds count
as published, so the command can be re-run safely.

Credentials come from the config file or the environment
(` + "NPM_MIRROR_USERNAME/NPM_MIRROR_PASSWORD or NPM_MIRROR_TOKEN" + `) and are
never passed on the command line.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		logger, err := newLogger(settings.LogLevel)
		if err != nil {
			return err
		}
		if err := settings.Validate(); err != nil {
			return err
		}
		logger.Debug("settings", settings.Redacted()...)

		run, err := newRun(settings, logger, &command.ExecRunner{Logger: logger})
		if err != nil {
			return err
		}
		summary, err := run.execute(cmd.Context())
		if summary != nil {
			renderSummary(cmd.OutOrStdout(), summary)
		}
		switch {
		case err != nil:
			return &ExitError{Code: 1, Err: err}
		case !summary.OK():
			return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d packages were not published", summary.Failed+summary.Cancelled, summary.Total)}
		}
		return nil
	},
}

// publishRun is one fully wired pipeline invocation.
type publishRun struct {
	settings   *config.Settings
	logger     *log.Logger
	discoverer *discovery.Discoverer
	pipeline   *pipeline.Pipeline
	failures   *faillog.Log
	registry   publish.Registry
}

// newRun wires discovery and the three stages from settings. runner executes
// every npm invocation.
func newRun(s *config.Settings, logger *log.Logger, runner command.Runner) (*publishRun, error) {
	npm, err := command.ParseProgram(s.NPMCommand)
	if err != nil {
		return nil, fmt.Errorf("parsing npm command: %w", err)
	}

	staging, err := filepath.Abs(s.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("resolving staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	failures, err := faillog.New(s.FailureLog)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	var lookup resolve.Lookup
	switch s.Lookup {
	case config.LookupHTTP:
		lookup = &resolve.HTTPLookup{BaseURL: s.UpstreamURL, Token: s.UpstreamToken, HTTPClient: httpClient}
	default:
		lookup = &resolve.NPMViewLookup{Runner: runner, NPM: npm, Registry: s.UpstreamURL}
	}

	registry := publish.Registry{URL: s.RegistryURL, Username: s.Username, Password: s.Password, Token: s.Token}

	stages := pipeline.Stages{
		Builder: pack.New(runner, pack.Options{NPM: npm, StagingDir: staging, OpTimeout: s.OpTimeout(), Logger: logger}),
		Resolver: resolve.New(lookup,
			&resolve.HTTPTransfer{HTTPClient: httpClient, Token: s.UpstreamToken, Logger: logger},
			resolve.Options{StagingDir: staging, OpTimeout: s.OpTimeout(), Logger: logger}),
		Publisher: publish.New(runner, registry, publish.Options{
			NPM:       npm,
			DryRun:    s.DryRun,
			Tag:       s.Tag,
			Access:    s.Access,
			OpTimeout: s.OpTimeout(),
			TempDir:   staging,
			Logger:    logger,
		}),
	}

	return &publishRun{
		settings:   s,
		logger:     logger,
		discoverer: discovery.New(discovery.Options{RecurseIntoUnits: s.RecurseIntoUnits, Logger: logger}),
		failures:   failures,
		registry:   registry,
		pipeline: pipeline.New(pipeline.Config{
			Workers:      s.Workers,
			DryRun:       s.DryRun,
			KeepArchives: s.KeepArchives,
			FailureLog:   failures,
			Logger:       logger,
		}, stages),
	}, nil
}

// execute discovers units and runs them through the pipeline. A root that
// cannot be read aborts before any unit is processed.
func (r *publishRun) execute(ctx context.Context) (*pipeline.Summary, error) {
	seq, err := r.discoverer.Discover(r.settings.Root)
	if err != nil {
		return nil, err
	}

	total, err := r.discoverer.Count(seq.Root())
	if err != nil {
		r.logger.Warn("could not pre-count packages", "err", err)
	}
	r.pipeline.SetTotal(total)

	r.logger.Info("starting",
		"root", seq.Root(),
		"registry", r.registry.String(),
		"packages", total,
		"workers", r.settings.Workers,
		"dry_run", r.settings.DryRun)

	summary, err := r.pipeline.Run(ctx, seq.All())
	if skipped := seq.Skipped(); skipped > 0 {
		r.logger.Warn("unreadable directories were skipped", "count", skipped)
	}
	if errors.Is(err, context.Canceled) {
		r.logger.Warn("interrupted; in-flight packages were finished, the rest were not started")
	}
	return summary, err
}
