package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrMissingName is returned when name is absent or blank.
	ErrMissingName = errors.New("manifest missing required 'name' field")
	// ErrMissingVersion is returned when version is absent or blank.
	ErrMissingVersion = errors.New("manifest missing required 'version' field")
	// ErrInvalidVersion is returned when version is not strict semver.
	ErrInvalidVersion = errors.New("manifest 'version' is not a valid semantic version")
)

// Parse reads a package.json file.
func Parse(path string) (*Manifest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return parseBytes(data, path)
}

// PublishRegistry returns publishConfig.registry from the package.json in
// dir, or "" when the file, the object or a string value is missing.
func PublishRegistry(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return ""
	}
	var doc struct {
		PublishConfig json.RawMessage `json:"publishConfig"`
	}
	if json.Unmarshal(data, &doc) != nil || len(doc.PublishConfig) == 0 {
		return ""
	}
	var cfg map[string]any
	if json.Unmarshal(doc.PublishConfig, &cfg) != nil {
		return ""
	}
	reg, _ := cfg["registry"].(string)
	return strings.TrimSpace(reg)
}

// Exists reports whether dir contains a package.json regular file.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && info.Mode().IsRegular()
}

// CheckIdentity verifies that name and version are present and that version
// parses as strict semver. The returned error wraps one of ErrMissingName,
// ErrMissingVersion or ErrInvalidVersion.
func CheckIdentity(name, version string) error {
	if strings.TrimSpace(name) == "" {
		return ErrMissingName
	}
	if strings.TrimSpace(version) == "" {
		return ErrMissingVersion
	}
	if _, err := semver.StrictNewVersion(version); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidVersion, version, err)
	}
	return nil
}

func parseBytes(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	return &m, nil
}

// readFile reads the contents of a file at the given path.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}
