package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writePackage creates dir (relative to root) with a package.json.
func writePackage(t *testing.T, root, dir, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	if err := os.MkdirAll(full, 0755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(full, "package.json"), []byte(content), 0644); err != nil {
		t.Fatalf("writing manifest in %s: %v", dir, err)
	}
}

func pkgJSON(name, version string) string {
	return `{"name":"` + name + `","version":"` + version + `"}`
}

// setupTree builds a small node_modules layout:
//
//	pkg-a/            a@1.0.0
//	pkg-a/node_modules/inner/  inner@0.1.0 (nested)
//	@scope/pkg-b/     @scope/b@2.0.0
//	pkg-c/            no manifest
//	.bin/fake/        manifest, but .bin is skipped
func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writePackage(t, root, "pkg-a", pkgJSON("a", "1.0.0"))
	writePackage(t, root, "pkg-a/node_modules/inner", pkgJSON("inner", "0.1.0"))
	writePackage(t, root, "@scope/pkg-b", pkgJSON("@scope/b", "2.0.0"))
	if err := os.MkdirAll(filepath.Join(root, "pkg-c", "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	writePackage(t, root, ".bin/fake", pkgJSON("fake", "1.0.0"))
	return root
}

func collect(t *testing.T, seq *Sequence) []Unit {
	t.Helper()
	var units []Unit
	for u := range seq.All() {
		units = append(units, u)
	}
	return units
}

func names(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiscover_DefaultSkipsNestedUnits(t *testing.T) {
	root := setupTree(t)

	seq, err := New(Options{}).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	units := collect(t, seq)

	// Lexical order: "@scope" sorts before "pkg-a".
	want := []string{"@scope/b", "a"}
	if got := names(units); !equal(got, want) {
		t.Fatalf("units = %v, want %v", got, want)
	}
	for _, u := range units {
		if !filepath.IsAbs(u.Path) {
			t.Errorf("unit path %q is not absolute", u.Path)
		}
		if !u.HasManifest || u.ManifestErr != nil {
			t.Errorf("unit %s: HasManifest=%v ManifestErr=%v", u.Name, u.HasManifest, u.ManifestErr)
		}
	}
}

func TestDiscover_RecurseIntoUnits(t *testing.T) {
	root := setupTree(t)

	seq, err := New(Options{RecurseIntoUnits: true}).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{"@scope/b", "a", "inner"}
	if got := names(collect(t, seq)); !equal(got, want) {
		t.Fatalf("units = %v, want %v", got, want)
	}
}

func TestDiscover_DirectoryWithoutManifestIsNotAUnit(t *testing.T) {
	root := setupTree(t)

	seq, _ := New(Options{RecurseIntoUnits: true}).Discover(root)
	for _, u := range collect(t, seq) {
		if filepath.Base(u.Path) == "pkg-c" || filepath.Base(u.Path) == "lib" {
			t.Errorf("pkg-c emitted as unit: %+v", u)
		}
	}
}

func TestDiscover_RootIsUnit(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, ".", pkgJSON("root-pkg", "3.0.0"))
	writePackage(t, root, "node_modules/dep", pkgJSON("dep", "1.0.0"))

	seq, _ := New(Options{}).Discover(root)
	if got := names(collect(t, seq)); !equal(got, []string{"root-pkg"}) {
		t.Errorf("units = %v, want only root-pkg", got)
	}

	seq, _ = New(Options{RecurseIntoUnits: true}).Discover(root)
	if got := names(collect(t, seq)); !equal(got, []string{"root-pkg", "dep"}) {
		t.Errorf("units = %v, want root-pkg and dep", got)
	}
}

func TestDiscover_MalformedManifestStillEmitted(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "broken", "{not json")
	writePackage(t, root, "noversion", `{"name":"noversion"}`)

	seq, _ := New(Options{}).Discover(root)
	units := collect(t, seq)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].ManifestErr == nil {
		t.Error("broken manifest should carry ManifestErr")
	}
	if units[1].Name != "noversion" || units[1].Version != "" {
		t.Errorf("noversion unit = %+v", units[1])
	}
}

func TestDiscover_LooselyTypedFieldsIgnored(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "legacy", `{"name":"legacy","version":"1.0.0","description":["x"],"private":"true","bin":7}`)

	seq, _ := New(Options{}).Discover(root)
	units := collect(t, seq)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.ManifestErr != nil || u.Name != "legacy" || u.Version != "1.0.0" {
		t.Errorf("unit = %+v, want legacy@1.0.0 without error", u)
	}
}

func TestDiscover_SinglePass(t *testing.T) {
	root := setupTree(t)
	seq, _ := New(Options{}).Discover(root)

	if n := len(collect(t, seq)); n != 2 {
		t.Fatalf("first pass got %d units", n)
	}
	if n := len(collect(t, seq)); n != 0 {
		t.Fatalf("second pass got %d units, want 0", n)
	}
}

func TestDiscover_EarlyBreak(t *testing.T) {
	root := setupTree(t)
	seq, _ := New(Options{}).Discover(root)
	for range seq.All() {
		break
	}
}

func TestDiscover_RootErrors(t *testing.T) {
	d := New(Options{})

	_, err := d.Discover(filepath.Join(t.TempDir(), "missing"))
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("missing root: got %v, want *discovery.Error", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := d.Discover(file); !errors.As(err, &derr) {
		t.Fatalf("file root: got %v, want *discovery.Error", err)
	}
}

func TestDiscover_UnreadableSubdirSkipped(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := setupTree(t)
	locked := filepath.Join(root, "locked")
	writePackage(t, root, "locked/inside", pkgJSON("inside", "1.0.0"))
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	seq, err := New(Options{}).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	units := collect(t, seq)
	if len(units) != 2 {
		t.Errorf("got %d units, want 2", len(units))
	}
	if seq.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", seq.Skipped())
	}
}

func TestCount(t *testing.T) {
	root := setupTree(t)

	n, err := New(Options{}).Count(root)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
	n, _ = New(Options{RecurseIntoUnits: true}).Count(root)
	if n != 3 {
		t.Errorf("Count with recursion = %d, want 3", n)
	}
}

func TestUnitKey(t *testing.T) {
	a := Unit{Path: "/nm/@scope/pkg", Name: "@scope/pkg", Version: "1.0.0"}
	b := Unit{Path: "/nm/other/node_modules/@scope/pkg", Name: "@scope/pkg", Version: "1.0.0"}

	if a.Key() == b.Key() {
		t.Errorf("same name@version in different dirs share key %q", a.Key())
	}
	if a.Key() != (Unit{Path: a.Path, Name: a.Name, Version: a.Version}).Key() {
		t.Error("Key is not deterministic")
	}
	if got := a.Key(); got[:len("scope+pkg@1.0.0-")] != "scope+pkg@1.0.0-" {
		t.Errorf("Key() = %q", got)
	}
	anon := Unit{Path: "/nm/x"}
	if anon.ID() != "/nm/x" {
		t.Errorf("ID() = %q, want path", anon.ID())
	}
	if k := anon.Key(); k[:8] != "unnamed-" {
		t.Errorf("Key() = %q", k)
	}
}
