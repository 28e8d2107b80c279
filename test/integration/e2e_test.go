//go:build integration

package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/masoudn84/npm-offline-package-mirror/internal/command"
	"github.com/masoudn84/npm-offline-package-mirror/internal/discovery"
	"github.com/masoudn84/npm-offline-package-mirror/internal/faillog"
	"github.com/masoudn84/npm-offline-package-mirror/internal/pack"
	"github.com/masoudn84/npm-offline-package-mirror/internal/pipeline"
	"github.com/masoudn84/npm-offline-package-mirror/internal/publish"
	"github.com/masoudn84/npm-offline-package-mirror/internal/resolve"
)

// fakeNPMScript emulates the npm subcommands the pipeline uses. Packages
// whose directory holds a FAIL_PACK marker fail to pack; publishes are
// recorded in $FAKE_REGISTRY so a repeated publish is refused.
const fakeNPMScript = `#!/bin/sh
cmd="$1"; shift
case "$cmd" in
pack)
	[ -f FAIL_PACK ] && { echo "npm ERR! code EJSONPARSE" >&2; exit 1; }
	dest=.
	while [ $# -gt 0 ]; do
		[ "$1" = "--pack-destination" ] && dest="$2"
		shift
	done
	name=$(basename "$PWD")-1.0.0.tgz
	tar -czf "$dest/$name" package.json
	echo "npm notice Tarball Contents"
	echo "$name"
	;;
view)
	if [ -n "$FAKE_TARBALL_URL" ]; then
		printf '{"tarball":"%s"}\n' "$FAKE_TARBALL_URL"
	else
		echo "npm ERR! code E404" >&2; exit 1
	fi
	;;
publish)
	tgz=$(basename "$1")
	if grep -qx "$tgz" "$FAKE_REGISTRY" 2>/dev/null; then
		echo "npm ERR! code EPUBLISHCONFLICT" >&2
		echo "npm ERR! cannot publish over existing version" >&2
		exit 1
	fi
	while [ $# -gt 0 ]; do
		[ "$1" = "--userconfig" ] && { grep -q "_authToken=" "$2" || { echo "npm ERR! code E401" >&2; exit 1; }; }
		shift
	done
	echo "$tgz" >> "$FAKE_REGISTRY"
	echo "+ $tgz"
	;;
*)
	echo "unexpected npm $cmd" >&2; exit 2
	;;
esac
`

type fakeNPM struct {
	program  command.Program
	registry string
}

func installFakeNPM(t *testing.T) *fakeNPM {
	t.Helper()
	requirePOSIX(t)
	bin := filepath.Join(t.TempDir(), "npm")
	writeExecutable(t, bin, fakeNPMScript)
	registry := filepath.Join(t.TempDir(), "registry.txt")
	t.Setenv("FAKE_REGISTRY", registry)
	return &fakeNPM{program: command.Program{bin}, registry: registry}
}

func newPipeline(t *testing.T, env *testEnv, npm command.Program, upstream string) (*pipeline.Pipeline, *faillog.Log) {
	t.Helper()
	logger := testLogger(t)
	runner := &command.ExecRunner{Logger: logger}
	timeout := 30 * time.Second

	flog, err := faillog.New(env.FailureLog)
	if err != nil {
		t.Fatal(err)
	}
	stages := pipeline.Stages{
		Builder: pack.New(runner, pack.Options{NPM: npm, StagingDir: env.StagingDir, OpTimeout: timeout, Logger: logger}),
		Resolver: resolve.New(
			&resolve.NPMViewLookup{Runner: runner, NPM: npm, Registry: upstream},
			&resolve.HTTPTransfer{Logger: logger},
			resolve.Options{StagingDir: env.StagingDir, OpTimeout: timeout, Logger: logger}),
		Publisher: publish.New(runner,
			publish.Registry{URL: "http://registry.invalid/", Token: "integration-token"},
			publish.Options{NPM: npm, OpTimeout: timeout, TempDir: env.StagingDir, Logger: logger}),
	}
	return pipeline.New(pipeline.Config{Workers: 3, FailureLog: flog, Logger: logger}, stages), flog
}

func runOnce(t *testing.T, env *testEnv, npm command.Program, upstream string) *pipeline.Summary {
	t.Helper()
	p, _ := newPipeline(t, env, npm, upstream)
	seq, err := discovery.New(discovery.Options{}).Discover(env.Root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	summary, err := p.Run(context.Background(), seq.All())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return summary
}

// TestPublishFlow runs the full pipeline through real processes:
// pack -> fallback fetch -> publish, then re-runs it.
func TestPublishFlow(t *testing.T) {
	env := setupTestEnv(t)
	npm := installFakeNPM(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream tarball"))
	}))
	defer srv.Close()
	t.Setenv("FAKE_TARBALL_URL", srv.URL+"/pkg-b/-/pkg-b-2.0.0.tgz")

	writePackage(t, env.Root, "pkg-a", "pkg-a", "1.0.0")
	b := writePackage(t, env.Root, "pkg-b", "pkg-b", "2.0.0")
	writeFile(t, filepath.Join(b, "FAIL_PACK"), "")
	writeFile(t, filepath.Join(env.Root, "pkg-c", "index.js"), "// no manifest\n")
	writePackage(t, env.Root, "@scope/pkg-s", "@scope/pkg-s", "0.1.0")

	summary := runOnce(t, env, npm.program, "")
	if !summary.OK() || summary.Total != 3 || summary.Published != 3 || summary.Fetched != 1 {
		t.Fatalf("first run summary = %+v", summary)
	}

	data, err := os.ReadFile(npm.registry)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"pkg-a-1.0.0.tgz", "pkg-b-2.0.0.tgz", "pkg-s-1.0.0.tgz"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("registry missing %s:\n%s", want, data)
		}
	}

	// Published archives are cleaned out of staging; node_modules is untouched.
	entries, _ := os.ReadDir(env.StagingDir)
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), "npmrc-") {
			t.Errorf("staging entry left behind: %s", e.Name())
		}
	}
	assertFileNotExists(t, filepath.Join(env.Root, "pkg-a", "pkg-a-1.0.0.tgz"))

	second := runOnce(t, env, npm.program, "")
	if !second.OK() || second.AlreadyExists != 3 {
		t.Errorf("second run summary = %+v, want only already-exists", second)
	}
	assertFileNotExists(t, env.FailureLog)
}

// TestPublishFlowFailures covers the unit that cannot be packed or found.
func TestPublishFlowFailures(t *testing.T) {
	env := setupTestEnv(t)
	npm := installFakeNPM(t)
	t.Setenv("FAKE_TARBALL_URL", "")

	d := writePackage(t, env.Root, "pkg-d", "pkg-d", "1.0.0")
	writeFile(t, filepath.Join(d, "FAIL_PACK"), "")
	writePackage(t, env.Root, "pkg-ok", "pkg-ok", "1.0.0")

	summary := runOnce(t, env, npm.program, "")
	if summary.OK() || summary.Failed != 1 || summary.Published != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	assertFileExists(t, env.FailureLog)
	entries, err := faillog.Read(env.FailureLog)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != "NotFound" || !strings.Contains(entries[0].Detail, "EJSONPARSE") {
		t.Errorf("failure log = %+v", entries)
	}

	data, _ := os.ReadFile(npm.registry)
	if strings.Contains(string(data), "pkg-d") {
		t.Error("pkg-d was published")
	}
}
