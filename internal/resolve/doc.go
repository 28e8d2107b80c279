// Package resolve is the fallback path for units that `npm pack` could not
// build: it looks up the published tarball of name@version in an upstream
// registry and downloads it into the staging directory.
//
// Two lookup strategies exist. NPMViewLookup shells out to `npm view
// <name>@<version> dist --json`, honouring the user's npm configuration.
// HTTPLookup talks to the registry's JSON API directly. Both return a
// Location that HTTPTransfer downloads atomically: bytes are streamed into a
// .part file which is renamed into place only after the transfer and its
// integrity check succeed, and removed otherwise.
package resolve
