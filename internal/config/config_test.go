package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("root", "", "")
	fs.String("registry-url", "", "")
	fs.Int("workers", 0, "")
	fs.Int("timeout", 0, "")
	fs.Bool("recurse", false, "")
	fs.Bool("dry-run", false, "")
	fs.Bool("verbose", false, "") // not a config key
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Root != DefaultRoot {
		t.Errorf("Root = %q, want %q", s.Root, DefaultRoot)
	}
	if s.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", s.Workers, DefaultWorkers)
	}
	if s.OpTimeoutSeconds != DefaultOpTimeoutSeconds {
		t.Errorf("OpTimeoutSeconds = %d, want %d", s.OpTimeoutSeconds, DefaultOpTimeoutSeconds)
	}
	if s.RecurseIntoUnits {
		t.Error("RecurseIntoUnits should default to false")
	}
	if s.Lookup != LookupNPM {
		t.Errorf("Lookup = %q, want %q", s.Lookup, LookupNPM)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `root: /from/file
registry_url: http://file.example.com/repository/npm-private
workers: 2
op_timeout_seconds: 60
`)
	t.Setenv("NPM_MIRROR_WORKERS", "6")

	s, err := Load(path, newFlags(t, "--root", "/from/flag", "--recurse"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Root != "/from/flag" {
		t.Errorf("Root = %q, want flag value", s.Root)
	}
	if s.RegistryURL != "http://file.example.com/repository/npm-private" {
		t.Errorf("RegistryURL = %q, want file value", s.RegistryURL)
	}
	if s.Workers != 6 {
		t.Errorf("Workers = %d, want env value 6", s.Workers)
	}
	if s.OpTimeoutSeconds != 60 {
		t.Errorf("OpTimeoutSeconds = %d, want 60", s.OpTimeoutSeconds)
	}
	if !s.RecurseIntoUnits {
		t.Error("RecurseIntoUnits should be set by --recurse")
	}
}

func TestLoad_UnsetFlagsDoNotOverrideFile(t *testing.T) {
	path := writeConfig(t, "workers: 3\n")

	s, err := Load(path, newFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Workers != 3 {
		t.Errorf("Workers = %d, want 3", s.Workers)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func validSettings() Settings {
	return Settings{
		Root:             "node_modules",
		RegistryURL:      "http://nexus.example.com/repository/npm-private/",
		StagingDir:       "downloaded_tgz",
		Workers:          4,
		OpTimeoutSeconds: 30,
		Lookup:           LookupNPM,
		UpstreamURL:      DefaultUpstreamURL,
		NPMCommand:       "npm",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"missing registry", func(s *Settings) { s.RegistryURL = "" }, "registry URL is required"},
		{"bad scheme", func(s *Settings) { s.RegistryURL = "ftp://x" }, "unsupported scheme"},
		{"zero workers", func(s *Settings) { s.Workers = 0 }, "workers must be at least 1"},
		{"zero timeout", func(s *Settings) { s.OpTimeoutSeconds = 0 }, "timeout must be positive"},
		{"unknown lookup", func(s *Settings) { s.Lookup = "wget" }, "unknown lookup strategy"},
		{"user without password", func(s *Settings) { s.Username = "ci" }, "must be set together"},
		{"empty root", func(s *Settings) { s.Root = " " }, "root directory is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedacted_MasksSecrets(t *testing.T) {
	s := validSettings()
	s.Password = "hunter2"
	s.Token = "npm_abcdef"
	s.UpstreamToken = "up-secret"

	kv := s.Redacted()
	for i := 1; i < len(kv); i += 2 {
		v, _ := kv[i].(string)
		if v == "hunter2" || v == "npm_abcdef" || v == "up-secret" {
			t.Errorf("secret leaked for key %v", kv[i-1])
		}
	}
}

func TestStore_SetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv("NPM_MIRROR_TOKEN", "from-env")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Set(KeyRegistryURL, "http://nexus.local/repository/npm"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Set("no_such_key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Get(KeyRegistryURL); got != "http://nexus.local/repository/npm" {
		t.Errorf("Get = %q", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "from-env") {
		t.Error("environment secret written to config file")
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	}
}
