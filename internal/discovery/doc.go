// Package discovery walks a directory tree (typically node_modules) and
// yields every directory that contains a package.json as a Unit. The walk is
// lexical, lazy and single-pass; see Sequence.
package discovery
