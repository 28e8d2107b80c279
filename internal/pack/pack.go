// Package pack builds a unit's tarball with `npm pack`.
package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/artifact"
	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
	"github.com/masoudn84/npm-offline-package-mirror/internal/manifest"
)

// BuildError reports that a unit could not be packed locally. It is always
// recoverable: the pipeline falls back to fetching the published tarball.
type BuildError struct {
	Unit          string
	Reason        string
	StderrExcerpt string
	Err           error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("packing %s: %s", e.Unit, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// Options configures a Builder.
type Options struct {
	NPM        command.Program
	StagingDir string // tarballs go to StagingDir/<unit key>/
	OpTimeout  time.Duration
	Logger     *log.Logger
}

// Builder runs `npm pack` for units.
type Builder struct {
	runner command.Runner
	opts   Options
}

// New creates a Builder.
func New(runner command.Runner, opts Options) *Builder {
	if len(opts.NPM) == 0 {
		opts.NPM = command.Program{"npm"}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Builder{runner: runner, opts: opts}
}

// Build packs unit into its staging directory. Every failure is returned as
// a *BuildError.
func (b *Builder) Build(ctx context.Context, unit discovery.Unit) (*artifact.Archive, error) {
	if unit.ManifestErr != nil {
		return nil, &BuildError{Unit: unit.Path, Reason: "unreadable manifest", Err: unit.ManifestErr}
	}
	result, err := manifest.ValidateFile(unit.ManifestPath)
	if err != nil {
		return nil, &BuildError{Unit: unit.Path, Reason: "validating manifest", Err: err}
	}
	if !result.Valid {
		return nil, &BuildError{Unit: unit.Path, Reason: "invalid manifest: " + result.Summary()}
	}

	destDir := filepath.Join(b.opts.StagingDir, unit.Key())
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, &BuildError{Unit: unit.Path, Reason: "creating staging directory", Err: err}
	}

	if b.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.OpTimeout)
		defer cancel()
	}

	// Lifecycle scripts are skipped: node_modules content is already built
	// and its devDependencies are usually absent.
	inv := command.Invocation{
		Args: b.opts.NPM.With("pack", "--ignore-scripts", "--pack-destination", destDir),
		Dir:  unit.Path,
	}
	out, err := b.runner.Run(ctx, inv)
	if err != nil {
		reason := "running npm pack"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("npm pack timed out after %s", b.opts.OpTimeout)
		}
		return nil, &BuildError{Unit: unit.Path, Reason: reason, StderrExcerpt: command.Excerpt(out.Combined()), Err: err}
	}
	if out.ExitCode != 0 {
		return nil, &BuildError{
			Unit:          unit.Path,
			Reason:        fmt.Sprintf("npm pack exited with status %d", out.ExitCode),
			StderrExcerpt: command.Excerpt(out.Stderr),
		}
	}

	name := out.LastLine()
	if name == "" {
		return nil, &BuildError{Unit: unit.Path, Reason: "npm pack printed no archive name", StderrExcerpt: command.Excerpt(out.Stderr)}
	}

	path, err := locateArchive(name, destDir, unit.Path)
	if err != nil {
		return nil, &BuildError{Unit: unit.Path, Reason: "locating packed archive", Err: err}
	}

	b.opts.Logger.Debug("packed", "unit", unit.Path, "archive", path)
	return &artifact.Archive{
		Path:     path,
		Source:   artifact.SourceBuilt,
		UnitPath: unit.Path,
	}, nil
}

// locateArchive resolves the file name npm printed. npm releases without
// --pack-destination support write into the package directory; such files
// are moved into destDir so node_modules is left untouched.
func locateArchive(name, destDir, unitDir string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("unexpected archive name %q", name)
	}

	inDest := filepath.Join(destDir, name)
	if _, err := os.Stat(inDest); err == nil {
		return inDest, nil
	}

	inUnit := filepath.Join(unitDir, name)
	if _, err := os.Stat(inUnit); err != nil {
		return "", fmt.Errorf("archive %s not found in %s or %s", name, destDir, unitDir)
	}
	if err := os.Rename(inUnit, inDest); err != nil {
		return "", fmt.Errorf("moving %s into staging: %w", name, err)
	}
	return inDest, nil
}
