package discovery

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Unit is a directory believed to hold one publishable package.
// Units are immutable once emitted.
type Unit struct {
	Path         string // absolute directory path
	ManifestPath string // absolute path to package.json
	HasManifest  bool
	Name         string // from package.json; empty if missing or unreadable
	Version      string // from package.json; empty if missing or unreadable
	ManifestErr  error  // set when package.json could not be read or parsed
}

// ID returns "name@version" when both are known, otherwise the path.
func (u Unit) ID() string {
	if u.Name == "" || u.Version == "" {
		return u.Path
	}
	return u.Name + "@" + u.Version
}

// Key returns a filesystem-safe identifier that is unique per unit
// directory. It is used to name the unit's private staging subdirectory.
func (u Unit) Key() string {
	sum := sha1.Sum([]byte(u.Path))
	suffix := hex.EncodeToString(sum[:4])
	if u.Name == "" || u.Version == "" {
		return "unnamed-" + suffix
	}
	return safeName(u.Name) + "@" + safeName(u.Version) + "-" + suffix
}

// safeName maps "@scope/pkg" to "scope+pkg" and drops anything that is not
// portable in a file name.
func safeName(s string) string {
	s = strings.TrimPrefix(s, "@")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == '/':
			b.WriteRune('+')
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
