package discovery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/manifest"
)

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{".bin", ".cache", ".git"}

// Error reports that the root itself cannot be walked. It is the only
// discovery failure that aborts a run.
type Error struct {
	Root string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovering units under %s: %v", e.Root, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options controls a walk.
type Options struct {
	// RecurseIntoUnits also searches below a discovered unit, which picks up
	// nested node_modules copies as separate units.
	RecurseIntoUnits bool
	// SkipDirs are directory names never descended into. Nil means
	// DefaultSkipDirs.
	SkipDirs []string
	Logger   *log.Logger
}

// Discoverer finds units below a root directory.
type Discoverer struct {
	opts Options
}

// New creates a Discoverer.
func New(opts Options) *Discoverer {
	if opts.SkipDirs == nil {
		opts.SkipDirs = DefaultSkipDirs
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Discoverer{opts: opts}
}

// Sequence is a lazy, single-pass stream of units.
type Sequence struct {
	d       *Discoverer
	root    string
	used    atomic.Bool
	skipped atomic.Int64
}

// Discover validates root and returns a Sequence over its units. Only a
// missing or unreadable root is an error; the walk itself happens when the
// sequence is ranged over.
func (d *Discoverer) Discover(root string) (*Sequence, error) {
	abs, err := checkRoot(root)
	if err != nil {
		return nil, err
	}
	return &Sequence{d: d, root: abs}, nil
}

// Count walks root without parsing manifests and returns the number of units
// a Sequence over the same root would yield.
func (d *Discoverer) Count(root string) (int, error) {
	abs, err := checkRoot(root)
	if err != nil {
		return 0, err
	}
	n := 0
	d.walk(abs, false, nil, func(Unit) bool {
		n++
		return true
	})
	return n, nil
}

// Root returns the absolute root directory.
func (s *Sequence) Root() string { return s.root }

// Skipped returns how many unreadable directories were skipped so far.
func (s *Sequence) Skipped() int { return int(s.skipped.Load()) }

// All returns the units in lexical walk order. The sequence can be consumed
// once; ranging over it a second time yields nothing.
func (s *Sequence) All() iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		if !s.used.CompareAndSwap(false, true) {
			s.d.opts.Logger.Warn("unit sequence already consumed; call Discover again to restart", "root", s.root)
			return
		}
		s.d.walk(s.root, true, &s.skipped, yield)
	}
}

func checkRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &Error{Root: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &Error{Root: abs, Err: err}
	}
	if !info.IsDir() {
		return "", &Error{Root: abs, Err: fmt.Errorf("not a directory")}
	}
	if _, err := os.ReadDir(abs); err != nil {
		return "", &Error{Root: abs, Err: err}
	}
	return abs, nil
}

var errStop = errors.New("stop walk")

// walk visits directories under root in lexical order and calls yield for
// each one holding a package.json.
func (d *Discoverer) walk(root string, parse bool, skipped *atomic.Int64, yield func(Unit) bool) {
	logger := d.opts.Logger

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectory: report and keep going.
			logger.Warn("skipping unreadable directory", "path", path, "err", err)
			if skipped != nil {
				skipped.Add(1)
			}
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && slices.Contains(d.opts.SkipDirs, entry.Name()) {
			return filepath.SkipDir
		}
		if !manifest.Exists(path) {
			return nil
		}

		unit := Unit{
			Path:         path,
			ManifestPath: filepath.Join(path, manifest.FileName),
			HasManifest:  true,
		}
		if parse {
			m, err := manifest.Parse(unit.ManifestPath)
			if err != nil {
				unit.ManifestErr = err
			} else {
				unit.Name = m.Name
				unit.Version = m.Version
			}
		}

		if !yield(unit) {
			return errStop
		}
		if !d.opts.RecurseIntoUnits {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		logger.Warn("walk stopped early", "root", root, "err", err)
	}
}
