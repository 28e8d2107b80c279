package manifest

// FileName is the manifest file that marks a directory as a package.
const FileName = "package.json"

// Manifest holds the package.json fields used by the pipeline. Every other
// field is ignored, whatever its type.
type Manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
