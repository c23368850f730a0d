package updater

import (
	"context"
	"os"
	"path/filepath"

	ps "github.com/mitchellh/go-ps"

	"github.com/oshokin/bundle-updater/internal/logger"
)

// maxCommLength is the length Linux truncates process names to.
const maxCommLength = 15

// otherInstances returns the pids of other processes running the same executable.
func otherInstances(executablePath string) ([]int, error) {
	processes, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	name := filepath.Base(executablePath)
	self := os.Getpid()

	var pids []int

	for _, process := range processes {
		if process.Pid() == self {
			continue
		}

		if sameProcessName(process.Executable(), name) {
			pids = append(pids, process.Pid())
		}
	}

	return pids, nil
}

func sameProcessName(processName, executableName string) bool {
	if processName == executableName {
		return true
	}

	return len(processName) == maxCommLength && len(executableName) > maxCommLength &&
		executableName[:maxCommLength] == processName
}

// warnAboutOtherInstances logs other running copies of the application. They
// are not stopped: only one instance is expected to update at a time.
func warnAboutOtherInstances(ctx context.Context, executablePath string) {
	if executablePath == "" {
		return
	}

	pids, err := otherInstances(executablePath)
	if err != nil {
		logger.DebugKV(ctx, "Failed to list processes", "error", err)

		return
	}

	if len(pids) > 0 {
		logger.WarnKV(ctx, "Other instances of the application are running during the update",
			"executable", filepath.Base(executablePath), "pids", pids)
	}
}
