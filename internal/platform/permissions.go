package platform

import (
	"fmt"
	"os"
	"runtime"
)

// PrivateFileMode is used for files holding credentials.
const PrivateFileMode os.FileMode = 0600

// Chmod sets file permissions. On Windows this is a no-op because Windows
// does not support Unix-style permission bits.
func Chmod(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}

// Restrict makes an existing file readable by its owner only. WriteFile and
// libraries that write config files keep the mode of a pre-existing file, so
// the mode is always set explicitly.
func Restrict(path string) error {
	if err := Chmod(path, PrivateFileMode); err != nil {
		return fmt.Errorf("restricting permissions of %s: %w", path, err)
	}
	return nil
}

// WritePrivateFile writes data to path and restricts it to its owner.
func WritePrivateFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, PrivateFileMode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return Restrict(path)
}
