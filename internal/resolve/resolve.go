package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/artifact"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
	"github.com/masoudn84/npm-offline-package-mirror/internal/manifest"
)

// Options configures a Resolver.
type Options struct {
	StagingDir string // downloads go to StagingDir/<unit key>/
	OpTimeout  time.Duration
	Logger     *log.Logger
}

// Resolver looks up and downloads published tarballs.
type Resolver struct {
	lookup   Lookup
	transfer Transfer
	opts     Options
}

// New creates a Resolver.
func New(lookup Lookup, transfer Transfer, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Resolver{lookup: lookup, transfer: transfer, opts: opts}
}

// ResolveAndFetch downloads the published tarball for unit. Every failure is
// returned as an *Error; the lookup is never attempted without a name and a
// valid version.
func (r *Resolver) ResolveAndFetch(ctx context.Context, unit discovery.Unit) (*artifact.Archive, error) {
	if unit.ManifestErr != nil {
		return nil, &Error{Kind: KindMalformedManifest, Unit: unit.Path, Err: unit.ManifestErr}
	}
	if err := manifest.CheckIdentity(unit.Name, unit.Version); err != nil {
		return nil, &Error{Kind: KindMalformedManifest, Unit: unit.Path, Err: err}
	}

	loc, err := r.locate(ctx, unit)
	if err != nil {
		return nil, err
	}

	segment, err := finalSegment(loc.URL)
	if err != nil {
		return nil, &Error{Kind: KindTransferFailed, Unit: unit.Path, Detail: "unusable tarball location", Err: err}
	}

	destDir := filepath.Join(r.opts.StagingDir, unit.Key())
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, &Error{Kind: KindTransferFailed, Unit: unit.Path, Detail: "creating staging directory", Err: err}
	}
	dest := filepath.Join(destDir, segment)

	if err := r.fetch(ctx, loc, dest); err != nil {
		// Transfers clean up after themselves; this covers ones that don't.
		os.Remove(dest)
		return nil, &Error{Kind: KindTransferFailed, Unit: unit.Path, Detail: loc.URL, Err: err}
	}

	r.opts.Logger.Debug("fetched", "unit", unit.ID(), "url", loc.URL, "dest", dest)
	return &artifact.Archive{
		Path:     dest,
		Source:   artifact.SourceFetched,
		UnitPath: unit.Path,
	}, nil
}

func (r *Resolver) locate(ctx context.Context, unit discovery.Unit) (*Location, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	loc, err := r.lookup.Locate(ctx, unit.Name, unit.Version)
	switch {
	case isNotFound(err):
		return nil, &Error{Kind: KindNotFound, Unit: unit.Path, Detail: unit.ID()}
	case err != nil:
		kind := KindLookupFailed
		var rerr *Error
		if errors.As(err, &rerr) {
			kind = rerr.Kind
		}
		return nil, &Error{Kind: kind, Unit: unit.Path, Detail: unit.ID(), Err: err}
	case loc == nil || loc.URL == "":
		return nil, &Error{Kind: KindNotFound, Unit: unit.Path, Detail: unit.ID()}
	}
	return loc, nil
}

func (r *Resolver) fetch(ctx context.Context, loc *Location, dest string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.transfer.Fetch(ctx, loc, dest)
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.OpTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.OpTimeout)
	}
	return context.WithCancel(ctx)
}

// finalSegment returns the last path segment of a tarball URL.
func finalSegment(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme in %q", raw)
	}
	seg := path.Base(u.Path)
	if seg == "." || seg == ".." || seg == "/" || seg == "" {
		return "", fmt.Errorf("no file name in %q", raw)
	}
	return seg, nil
}
