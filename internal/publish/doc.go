// Package publish uploads tarballs to the target registry with `npm publish`
// and classifies the registry's answer as success, already-exists, timeout
// or rejection.
package publish
