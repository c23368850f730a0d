//go:build windows

package installer

import (
	"path/filepath"
	"strings"
)

// sameDevice compares volume names.
func sameDevice(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}

	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(filepath.VolumeName(absA), filepath.VolumeName(absB)), nil
}
