// Package manifest reads and validates package.json files. Parsing is
// deliberately shallow: only the fields the mirror pipeline needs (name and
// version) are decoded. Validation runs the embedded JSON Schema
// and a strict semver check on the version.
package manifest
