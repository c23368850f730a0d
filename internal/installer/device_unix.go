//go:build unix

package installer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sameDevice reports whether both paths are on the same filesystem, so a
// rename between them is atomic.
func sameDevice(a, b string) (bool, error) {
	var statA, statB unix.Stat_t

	if err := unix.Stat(a, &statA); err != nil {
		return false, fmt.Errorf("stat %s: %w", a, err)
	}

	if err := unix.Stat(b, &statB); err != nil {
		return false, fmt.Errorf("stat %s: %w", b, err)
	}

	return statA.Dev == statB.Dev, nil
}
