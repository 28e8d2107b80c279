package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/masoudn84/npm-offline-package-mirror/internal/artifact"
	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
	"github.com/masoudn84/npm-offline-package-mirror/internal/manifest"
)

// conflictMarkers are substrings registries use to refuse a version that
// exists already (npmjs, Verdaccio, Nexus, Artifactory). They only count
// when the output also carries registry evidence, see isAlreadyPublished.
var conflictMarkers = []string{
	"epublishconflict",
	"previously published",
	"cannot publish over",
	"already exists",
	"already present",
	"does not allow updating",
	"409 conflict",
}

var (
	// npm 6-8 print "npm ERR! code X", npm 9+ "npm error code X".
	npmCodeRe = regexp.MustCompile(`(?m)^npm (?:ERR!|error) code (\S+)`)
	// A registry HTTP response as npm echoes it: "403 Forbidden - PUT https://...".
	registryResponseRe = regexp.MustCompile(`\b4\d\d [A-Za-z][A-Za-z ]* - (?:PUT|POST) `)
	httpCodeRe         = regexp.MustCompile(`^E4\d\d$`)
	// "npm notice Publishing to https://registry.example/ with tag latest ..."
	publishTargetRe = regexp.MustCompile(`Publishing to (\S+)`)
)

// Options configures a Publisher.
type Options struct {
	NPM       command.Program
	DryRun    bool
	Tag       string
	Access    string // "public" or "restricted"
	OpTimeout time.Duration
	// TempDir holds per-call npmrc files. Empty means the system default.
	TempDir string
	Logger  *log.Logger
}

// Publisher runs `npm publish` against one registry.
type Publisher struct {
	runner   command.Runner
	registry Registry
	opts     Options
}

// New creates a Publisher.
func New(runner command.Runner, registry Registry, opts Options) *Publisher {
	if len(opts.NPM) == 0 {
		opts.NPM = command.Program{"npm"}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Publisher{runner: runner, registry: registry, opts: opts}
}

// Publish uploads archive. It returns nil on success and an *Error
// otherwise; callers treat KindAlreadyExists as success.
func (p *Publisher) Publish(ctx context.Context, archive *artifact.Archive) error {
	args := []string{"publish", archive.Path, "--registry", p.registry.URL}
	if p.opts.DryRun {
		args = append(args, "--dry-run")
	}
	if p.opts.Tag != "" {
		args = append(args, "--tag", p.opts.Tag)
	}
	if p.opts.Access != "" {
		args = append(args, "--access", p.opts.Access)
	}

	if p.registry.HasCredentials() {
		userconfig, cleanup, err := writeUserConfig(p.opts.TempDir, p.registry)
		if err != nil {
			return &Error{Kind: KindRejected, Archive: archive.Path, Detail: "preparing credentials", Err: err}
		}
		defer cleanup()
		args = append(args, "--userconfig", userconfig)
	}

	if p.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.OpTimeout)
		defer cancel()
	}

	override := p.publishConfigOverride(archive)
	if override != "" {
		p.opts.Logger.Warn("package.json sets publishConfig.registry", "unit", archive.UnitPath, "publish_config", redact(override), "registry", p.registry.String())
	}

	p.opts.Logger.Debug("publishing", "archive", archive.Path, "registry", p.registry.String(), "dry_run", p.opts.DryRun)

	// Running from the staging directory keeps project-level .npmrc files
	// inside node_modules out of the picture.
	out, err := p.runner.Run(ctx, command.Invocation{
		Args: p.opts.NPM.With(args...),
		Dir:  filepath.Dir(archive.Path),
	})
	if err == nil {
		if target := publishTarget(out.Combined()); target != "" && !sameRegistry(target, p.registry.URL) {
			return &Error{
				Kind:    KindRedirected,
				Archive: archive.Path,
				Detail:  fmt.Sprintf("npm published to %s instead of %s", redact(target), p.registry.String()),
			}
		}
	}
	perr := classify(archive.Path, out, err, p.opts.OpTimeout)
	var e *Error
	if override != "" && errors.As(perr, &e) && e.Kind == KindRejected {
		e.Detail += fmt.Sprintf(" (package.json publishConfig.registry is %s)", redact(override))
	}
	return perr
}

// publishConfigOverride returns the unit's publishConfig.registry when it
// names a registry other than the target.
func (p *Publisher) publishConfigOverride(archive *artifact.Archive) string {
	if archive.UnitPath == "" {
		return ""
	}
	reg := manifest.PublishRegistry(archive.UnitPath)
	if reg == "" || sameRegistry(reg, p.registry.URL) {
		return ""
	}
	return reg
}

// classify maps an npm publish outcome onto nil or an *Error.
func classify(archive string, out *command.Output, err error, timeout time.Duration) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Archive: archive, Detail: fmt.Sprintf("npm publish timed out after %s", timeout), Err: err}
		}
		return &Error{Kind: KindRejected, Archive: archive, Detail: command.Excerpt(out.Combined()), Err: err}
	}
	if out.ExitCode == 0 {
		return nil
	}

	combined := out.Combined()
	if isAlreadyPublished(combined) {
		return &Error{Kind: KindAlreadyExists, Archive: archive, Detail: lastMeaningfulLine(combined)}
	}
	return &Error{
		Kind:    KindRejected,
		Archive: archive,
		Detail:  fmt.Sprintf("npm publish exited with status %d: %s", out.ExitCode, command.Excerpt(combined)),
	}
}

// isAlreadyPublished reports whether npm output shows the registry refusing
// an existing version. A conflict phrase alone is not enough: local failures
// such as EEXIST on the npm cache use the same words.
func isAlreadyPublished(output string) bool {
	code := npmErrorCode(output)
	switch {
	case code == "EPUBLISHCONFLICT" || code == "E409":
		return true
	case code != "" && !httpCodeRe.MatchString(code):
		return false
	}
	for _, line := range strings.Split(output, "\n") {
		if (code != "" || registryResponseRe.MatchString(line)) && hasConflictMarker(line) {
			return true
		}
	}
	return false
}

func npmErrorCode(output string) string {
	m := npmCodeRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

func hasConflictMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range conflictMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// lastMeaningfulLine returns the last output line naming a conflict marker,
// falling back to the last non-empty line.
func lastMeaningfulLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if hasConflictMarker(lines[i]) {
			return strings.TrimSpace(lines[i])
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func publishTarget(output string) string {
	m := publishTargetRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// sameRegistry compares registry URLs by scheme, host and path, ignoring
// credentials and a trailing slash.
func sameRegistry(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}

func redact(raw string) string {
	return Registry{URL: raw}.String()
}
