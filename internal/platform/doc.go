// Package platform hides the file permission differences between Unix and
// Windows for files that hold registry credentials.
package platform
