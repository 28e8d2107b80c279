package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/masoudn84/npm-offline-package-mirror/internal/branding"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Configuration keys.
const (
	KeyRoot             = "root"
	KeyRegistryURL      = "registry_url"
	KeyUsername         = "username"
	KeyPassword         = "password"
	KeyToken            = "token"
	KeyStagingDir       = "staging_dir"
	KeyWorkers          = "workers"
	KeyOpTimeoutSeconds = "op_timeout_seconds"
	KeyRecurseIntoUnits = "recurse_into_units"
	KeyDryRun           = "dry_run"
	KeyFailureLog       = "failure_log"
	KeyLookup           = "lookup"
	KeyUpstreamURL      = "upstream_url"
	KeyUpstreamToken    = "upstream_token"
	KeyNPMCommand       = "npm_command"
	KeyKeepArchives     = "keep_archives"
	KeyLogLevel         = "log_level"
	KeyTag              = "tag"
	KeyAccess           = "access"
)

// Keys lists every recognized configuration key.
var Keys = []string{
	KeyRoot, KeyRegistryURL, KeyUsername, KeyPassword, KeyToken, KeyStagingDir,
	KeyWorkers, KeyOpTimeoutSeconds, KeyRecurseIntoUnits, KeyDryRun, KeyFailureLog,
	KeyLookup, KeyUpstreamURL, KeyUpstreamToken, KeyNPMCommand, KeyKeepArchives,
	KeyLogLevel, KeyTag, KeyAccess,
}

// secretKeys are never printed by Redacted or `config get`.
var secretKeys = []string{KeyPassword, KeyToken, KeyUpstreamToken}

// Lookup strategies for the fallback resolver.
const (
	LookupNPM  = "npm"
	LookupHTTP = "http"
)

// Defaults.
const (
	DefaultRoot             = "node_modules"
	DefaultStagingDir       = "downloaded_tgz"
	DefaultWorkers          = 4
	DefaultOpTimeoutSeconds = 300
	DefaultFailureLog       = "publish_errors.log"
	DefaultUpstreamURL      = "https://registry.npmjs.org"
	DefaultNPMCommand       = "npm"
	DefaultLogLevel         = "info"
)

// Settings is the fully resolved configuration for one run.
type Settings struct {
	Root             string `mapstructure:"root"`
	RegistryURL      string `mapstructure:"registry_url"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	Token            string `mapstructure:"token"`
	StagingDir       string `mapstructure:"staging_dir"`
	Workers          int    `mapstructure:"workers"`
	OpTimeoutSeconds int    `mapstructure:"op_timeout_seconds"`
	RecurseIntoUnits bool   `mapstructure:"recurse_into_units"`
	DryRun           bool   `mapstructure:"dry_run"`
	FailureLog       string `mapstructure:"failure_log"`
	Lookup           string `mapstructure:"lookup"`
	UpstreamURL      string `mapstructure:"upstream_url"`
	UpstreamToken    string `mapstructure:"upstream_token"`
	NPMCommand       string `mapstructure:"npm_command"`
	KeepArchives     bool   `mapstructure:"keep_archives"`
	LogLevel         string `mapstructure:"log_level"`
	Tag              string `mapstructure:"tag"`
	Access           string `mapstructure:"access"`
}

// flagKeys maps CLI flag names to configuration keys where they differ from
// the dash-to-underscore default.
var flagKeys = map[string]string{
	"timeout": KeyOpTimeoutSeconds,
	"recurse": KeyRecurseIntoUnits,
}

// Dir returns the path to the config directory (~/.npm-mirror/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the default config file.
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the directory holding path if it does not exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRoot, DefaultRoot)
	v.SetDefault(KeyStagingDir, DefaultStagingDir)
	v.SetDefault(KeyWorkers, DefaultWorkers)
	v.SetDefault(KeyOpTimeoutSeconds, DefaultOpTimeoutSeconds)
	v.SetDefault(KeyRecurseIntoUnits, false)
	v.SetDefault(KeyDryRun, false)
	v.SetDefault(KeyFailureLog, DefaultFailureLog)
	v.SetDefault(KeyLookup, LookupNPM)
	v.SetDefault(KeyUpstreamURL, DefaultUpstreamURL)
	v.SetDefault(KeyNPMCommand, DefaultNPMCommand)
	v.SetDefault(KeyKeepArchives, false)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)

	// Keys without defaults still need registering so AutomaticEnv and
	// Unmarshal see them.
	for _, k := range []string{KeyRegistryURL, KeyUsername, KeyPassword, KeyToken, KeyUpstreamToken, KeyTag, KeyAccess} {
		v.SetDefault(k, "")
	}
}

// newViper returns a viper instance wired to the env prefix and config file.
func newViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType(fileType)
	v.SetEnvPrefix(branding.EnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves Settings from the config file at path (FilePath() when
// empty), the environment, and any flags in fs that were set explicitly.
// A missing default config file is not an error; a missing explicit one is.
func Load(path string, fs *pflag.FlagSet) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = FilePath()
	}

	v := newViper(path)
	if err := readConfig(v, explicit); err != nil {
		return nil, err
	}

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &s, nil
}

func readConfig(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !explicit && (errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)) {
		return nil
	}
	return fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), err)
}

// bindFlags binds every flag in fs whose name maps to a known key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if !slices.Contains(Keys, key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("binding flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

// OpTimeout returns the per-operation timeout.
func (s *Settings) OpTimeout() time.Duration {
	return time.Duration(s.OpTimeoutSeconds) * time.Second
}

// Validate reports the first problem that would prevent a run.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Root) == "" {
		return fmt.Errorf("root directory is required")
	}
	if strings.TrimSpace(s.RegistryURL) == "" {
		return fmt.Errorf("registry URL is required (--registry-url or %s)", branding.EnvVar(KeyRegistryURL))
	}
	if err := validateURL(s.RegistryURL); err != nil {
		return fmt.Errorf("registry URL: %w", err)
	}
	if s.StagingDir == "" {
		return fmt.Errorf("staging directory is required")
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.OpTimeoutSeconds <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %d", s.OpTimeoutSeconds)
	}
	switch s.Lookup {
	case LookupNPM:
	case LookupHTTP:
		if err := validateURL(s.UpstreamURL); err != nil {
			return fmt.Errorf("upstream URL: %w", err)
		}
	default:
		return fmt.Errorf("unknown lookup strategy %q: supported strategies are %q and %q", s.Lookup, LookupNPM, LookupHTTP)
	}
	if (s.Username == "") != (s.Password == "") {
		return fmt.Errorf("username and password must be set together")
	}
	if strings.TrimSpace(s.NPMCommand) == "" {
		return fmt.Errorf("npm command is required")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// Redacted returns the settings as key/value pairs suitable for logging, with
// secrets masked.
func (s *Settings) Redacted() []any {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "****"
	}
	return []any{
		KeyRoot, s.Root,
		KeyRegistryURL, redactURL(s.RegistryURL),
		KeyUsername, s.Username,
		KeyPassword, mask(s.Password),
		KeyToken, mask(s.Token),
		KeyStagingDir, s.StagingDir,
		KeyWorkers, s.Workers,
		KeyOpTimeoutSeconds, s.OpTimeoutSeconds,
		KeyRecurseIntoUnits, s.RecurseIntoUnits,
		KeyDryRun, s.DryRun,
		KeyLookup, s.Lookup,
		KeyUpstreamURL, redactURL(s.UpstreamURL),
		KeyUpstreamToken, mask(s.UpstreamToken),
		KeyFailureLog, s.FailureLog,
		KeyNPMCommand, s.NPMCommand,
		KeyKeepArchives, s.KeepArchives,
	}
}

// redactURL masks a password embedded in a URL's user info.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool {
	return slices.Contains(secretKeys, key)
}
