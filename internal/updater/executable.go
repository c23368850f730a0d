package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// currentExecutable resolves the running binary once per process.
//
//nolint:gochecknoglobals // Read-only after the first call.
var currentExecutable = sync.OnceValues(func() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate current executable: %w", err)
	}

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return filepath.Abs(path)
})

// CurrentExecutable returns the canonical path of the running binary.
// The first call must happen before the process changes its working directory,
// so main calls it before anything else and passes the value to New.
func CurrentExecutable() (string, error) {
	return currentExecutable()
}
