package release

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlatform is returned when the running OS or architecture has no target name.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Target identifies the platform an artifact is built for.
type Target struct {
	// OS is one of linux, macos, windows.
	OS string
	// Arch is one of x86_64, aarch64, i686, armv7.
	Arch string
}

// TargetFor maps Go's GOOS/GOARCH pair to target names.
func TargetFor(goos, goarch string) (Target, error) {
	var t Target

	switch goos {
	case "linux", "windows":
		t.OS = goos
	case "darwin":
		t.OS = "macos"
	default:
		return Target{}, fmt.Errorf("%w: os %s", ErrUnsupportedPlatform, goos)
	}

	switch goarch {
	case "amd64":
		t.Arch = "x86_64"
	case "arm64":
		t.Arch = "aarch64"
	case "386":
		t.Arch = "i686"
	case "arm":
		t.Arch = "armv7"
	default:
		return Target{}, fmt.Errorf("%w: arch %s", ErrUnsupportedPlatform, goarch)
	}

	return t, nil
}

// Key returns the "<os>-<arch>" lookup key used in static manifests.
func (t Target) Key() string {
	return t.OS + "-" + t.Arch
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return t.Key()
}
