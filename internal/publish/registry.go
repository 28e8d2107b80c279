package publish

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/masoudn84/npm-offline-package-mirror/internal/platform"
)

// Registry is the publish target and its credentials. Token takes
// precedence over Username/Password.
type Registry struct {
	URL      string
	Username string
	Password string
	Token    string
}

// HasCredentials reports whether any credential is configured.
func (r Registry) HasCredentials() bool {
	return r.Token != "" || (r.Username != "" && r.Password != "")
}

// String returns the registry URL with any embedded password masked.
func (r Registry) String() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	return u.Redacted()
}

// nerfDart returns the "//host/path/" prefix npm uses to scope auth settings
// to one registry.
func nerfDart(registryURL string) (string, error) {
	u, err := url.Parse(registryURL)
	if err != nil {
		return "", fmt.Errorf("parsing registry url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("registry url has no host")
	}
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return "//" + u.Host + p, nil
}

// npmrc renders a user config holding the registry and its credentials.
func (r Registry) npmrc() (string, error) {
	prefix, err := nerfDart(r.URL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "registry=%s\n", r.URL)
	switch {
	case r.Token != "":
		fmt.Fprintf(&b, "%s:_authToken=%s\n", prefix, r.Token)
	case r.Username != "" && r.Password != "":
		fmt.Fprintf(&b, "%s:username=%s\n", prefix, r.Username)
		fmt.Fprintf(&b, "%s:_password=%s\n", prefix, base64.StdEncoding.EncodeToString([]byte(r.Password)))
	}
	return b.String(), nil
}

// writeUserConfig writes the registry's npmrc into a fresh private
// directory under parent. The returned cleanup removes it.
func writeUserConfig(parent string, r Registry) (path string, cleanup func(), err error) {
	content, err := r.npmrc()
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp(parent, "npmrc-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating npmrc directory: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	path = filepath.Join(dir, ".npmrc")
	if err := platform.WritePrivateFile(path, []byte(content)); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
