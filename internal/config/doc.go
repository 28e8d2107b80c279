// Package config loads npm-mirror settings from ~/.npm-mirror/config.yaml,
// NPM_MIRROR_* environment variables and command-line flags, in increasing
// order of precedence. The resulting Settings value is passed explicitly to
// every pipeline component; nothing in this package is process-global.
package config
