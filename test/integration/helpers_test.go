//go:build integration

package integration_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/charmbracelet/log"
)

// testEnv holds paths to isolated test directories.
type testEnv struct {
	HomeDir    string // HOME, so no user npmrc or config leaks in
	Root       string // node_modules tree to publish
	StagingDir string
	FailureLog string
}

// setupTestEnv creates isolated temp directories and points HOME and the
// tool's environment at them. The env vars are restored after the test.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	work := t.TempDir()
	env := &testEnv{
		HomeDir:    t.TempDir(),
		Root:       filepath.Join(work, "node_modules"),
		StagingDir: filepath.Join(work, "staging"),
		FailureLog: filepath.Join(work, "publish_errors.log"),
	}
	if err := os.MkdirAll(env.Root, 0755); err != nil {
		t.Fatalf("creating root: %v", err)
	}

	t.Setenv("HOME", env.HomeDir)
	t.Setenv("NPM_CONFIG_USERCONFIG", filepath.Join(env.HomeDir, ".npmrc"))
	t.Setenv("NPM_MIRROR_REGISTRY_URL", "")
	return env
}

// writePackage creates dir/package.json (and an index.js) under root.
func writePackage(t *testing.T, root, dir, name, version string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	writeFile(t, filepath.Join(path, "package.json"), fmt.Sprintf(`{"name":%q,"version":%q,"main":"index.js"}`, name, version))
	writeFile(t, filepath.Join(path, "index.js"), "module.exports = 42;\n")
	return path
}

// writeFile writes content to path, creating parent directories.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// writeExecutable writes a script and marks it executable.
func writeExecutable(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	if err := os.Chmod(path, 0755); err != nil {
		t.Fatalf("chmod %s: %v", path, err)
	}
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s", path)
	}
}

func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to not exist: %s", path)
	}
}

func requirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fakes need a POSIX shell")
	}
}

func testLogger(t *testing.T) *log.Logger {
	if testing.Verbose() {
		return log.NewWithOptions(os.Stderr, log.Options{Level: log.DebugLevel, Prefix: t.Name()})
	}
	return log.New(io.Discard)
}
