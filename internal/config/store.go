package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/masoudn84/npm-offline-package-mirror/internal/platform"
	"github.com/spf13/viper"
)

// Store reads and writes individual keys of a config file.
type Store struct {
	v    *viper.Viper
	path string
}

// Open returns a Store for the config file at path (FilePath() when empty).
// The file does not need to exist yet.
func Open(path string) (*Store, error) {
	explicit := path != ""
	if !explicit {
		path = FilePath()
	}
	// No defaults or environment here: WriteConfigAs persists every key the
	// instance knows about, and env-provided secrets must not land on disk.
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(fileType)
	if _, err := os.Stat(path); err == nil {
		if err := readConfig(v, explicit); err != nil {
			return nil, err
		}
	}
	return &Store{v: v, path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns a config value by key. Returns empty string if not set.
func (s *Store) Get(key string) string {
	return s.v.GetString(key)
}

// Set writes a config key-value pair and saves the config file.
func (s *Store) Set(key, value string) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err := EnsureDir(s.path); err != nil {
		return err
	}

	s.v.Set(key, value)

	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	// The file may hold credentials.
	return platform.Restrict(s.path)
}
