package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/masoudn84/npm-offline-package-mirror/internal/branding"
	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
)

// Location is where a published tarball can be downloaded from.
type Location struct {
	URL       string
	Shasum    string // hex sha1, optional
	Integrity string // SRI string such as "sha512-...", optional
}

// Lookup finds the tarball location of name@version. It returns an error
// matching ErrNotFound when the registry has no such version.
type Lookup interface {
	Locate(ctx context.Context, name, version string) (*Location, error)
}

// dist mirrors the "dist" object of a registry version document.
type dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
}

func (d dist) location() *Location {
	return &Location{URL: strings.TrimSpace(d.Tarball), Shasum: d.Shasum, Integrity: d.Integrity}
}

// NPMViewLookup asks the npm CLI for the dist metadata.
type NPMViewLookup struct {
	Runner   command.Runner
	NPM      command.Program
	Registry string // optional --registry override
}

// Locate runs `npm view <name>@<version> dist --json`.
func (l *NPMViewLookup) Locate(ctx context.Context, name, version string) (*Location, error) {
	args := []string{"view", name + "@" + version, "dist", "--json"}
	if l.Registry != "" {
		args = append(args, "--registry", l.Registry)
	}
	npm := l.NPM
	if len(npm) == 0 {
		npm = command.Program{"npm"}
	}

	out, err := l.Runner.Run(ctx, command.Invocation{Args: npm.With(args...)})
	if err != nil {
		return nil, fmt.Errorf("running npm view: %w", err)
	}
	if out.ExitCode != 0 {
		combined := out.Combined()
		if strings.Contains(combined, "E404") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("npm view exited with status %d: %s", out.ExitCode, command.Excerpt(combined))
	}

	body := bytes.TrimSpace([]byte(out.Stdout))
	// npm prints nothing when the package exists but the version does not.
	if len(body) == 0 {
		return nil, ErrNotFound
	}
	d, err := decodeDist(body)
	if err != nil {
		return nil, fmt.Errorf("parsing npm view output: %w", err)
	}
	loc := d.location()
	if loc.URL == "" {
		return nil, ErrNotFound
	}
	return loc, nil
}

// decodeDist accepts a single dist object or, when several versions matched,
// an array of them (the last entry wins, matching npm's ordering).
func decodeDist(body []byte) (dist, error) {
	var d dist
	if body[0] == '[' {
		var all []dist
		if err := json.Unmarshal(body, &all); err != nil {
			return d, err
		}
		if len(all) == 0 {
			return d, nil
		}
		return all[len(all)-1], nil
	}
	err := json.Unmarshal(body, &d)
	return d, err
}

// HTTPLookup reads version documents from a registry's JSON API.
type HTTPLookup struct {
	BaseURL    string // e.g. https://registry.npmjs.org
	Token      string // optional bearer token
	HTTPClient *http.Client
}

// Locate fetches <BaseURL>/<name>/<version>.
func (l *HTTPLookup) Locate(ctx context.Context, name, version string) (*Location, error) {
	endpoint := strings.TrimRight(l.BaseURL, "/") + "/" + escapeName(name) + "/" + url.PathEscape(version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", branding.UserAgent())
	if l.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.Token)
	}

	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching version document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d for %s@%s", resp.StatusCode, name, version)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var doc struct {
		Dist dist `json:"dist"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing version document: %w", err)
	}
	loc := doc.Dist.location()
	if loc.URL == "" {
		return nil, ErrNotFound
	}
	return loc, nil
}

// escapeName encodes a package name as a registry path segment; the slash of
// a scoped name is escaped ("@scope/pkg" -> "@scope%2fpkg").
func escapeName(name string) string {
	if strings.HasPrefix(name, "@") {
		if scope, pkg, ok := strings.Cut(name[1:], "/"); ok {
			return "@" + url.PathEscape(scope) + "%2f" + url.PathEscape(pkg)
		}
	}
	return url.PathEscape(name)
}

// isNotFound reports whether err means "no such version".
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
