// Package artifact defines the tarball handed from the build and resolve
// stages to the publish stage.
package artifact

// Source records how an Archive was obtained.
type Source string

const (
	// SourceBuilt marks a tarball produced locally by `npm pack`.
	SourceBuilt Source = "built"
	// SourceFetched marks a tarball downloaded from an upstream registry.
	SourceFetched Source = "fetched"
)

// Archive is a package tarball on local disk.
type Archive struct {
	Path     string // absolute path to the .tgz
	Source   Source
	UnitPath string // directory of the unit it belongs to
}
