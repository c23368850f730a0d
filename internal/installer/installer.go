package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/domain/release"
)

// State is the lifecycle of a single installation.
type State int

const (
	// StatePending means nothing on disk has been touched yet.
	StatePending State = iota
	// StateStaged means the payload or a backup has been written and the live artifact may be moved.
	StateStaged
	// StateInstalled means the new artifact is in place, or has been handed to the OS installer.
	StateInstalled
	// StateRolledBack means a failure occurred and the previous artifact was restored.
	StateRolledBack
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStaged:
		return "staged"
	case StateInstalled:
		return "installed"
	case StateRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

var (
	// ErrTempDirNotOnSameMountPoint is returned when no backup directory shares a device with the AppImage.
	ErrTempDirNotOnSameMountPoint = errors.New("no temporary directory on the same mount point as the application")
	// ErrRollback is returned when restoring the previous artifact failed. The host
	// may be left with the backup outside of its original location.
	ErrRollback = errors.New("rollback failed")
	// errExtractPathRequired is returned when an installer needs ExtractPath and it is empty.
	errExtractPathRequired = errors.New("extract path is required")
)

// Installer replaces the running application with a verified payload.
// Only one Install may run per application instance at a time.
type Installer interface {
	// Install writes the payload. On failure the previous artifact is restored
	// or ErrRollback is returned.
	Install(ctx context.Context, payload []byte) error
	// State reports where the installation stopped.
	State() State
}

// Launcher starts external processes without waiting for them.
type Launcher interface {
	Start(ctx context.Context, name string, args ...string) error
}

// ExecLauncher starts processes with os/exec. The child outlives the context
// on purpose: the updater exits right after handing off to an OS installer.
type ExecLauncher struct{}

// Start implements Launcher.
func (ExecLauncher) Start(_ context.Context, name string, args ...string) error {
	//nolint:gosec // Installer paths and arguments come from the verified update and local config.
	cmd := exec.Command(name, args...)

	return cmd.Start()
}

// Options configures the installers. Zero values get defaults in New.
type Options struct {
	// ExtractPath is the AppImage file (Linux), .app directory (macOS) or install directory (Windows).
	ExtractPath string
	// ExecutablePath is the running executable, relaunched after an MSI install.
	ExecutablePath string
	// InstallMode selects the Windows installer UI.
	InstallMode config.InstallMode
	// InstallerArgs are appended to the Windows installer command line.
	InstallerArgs []string
	// TempDir is where Windows installer files are written. Defaults to os.TempDir().
	TempDir string
	// Launcher starts Windows installers. Defaults to ExecLauncher.
	Launcher Launcher
	// OnBeforeExit runs right before the process exits after a Windows handoff.
	OnBeforeExit func()
	// Exit terminates the process after a Windows handoff. Defaults to os.Exit.
	Exit func(code int)
	// GOOS is the platform the installer runs on. Defaults to runtime.GOOS.
	GOOS string
}

func (o Options) withDefaults() Options {
	if o.InstallMode == "" {
		o.InstallMode = config.InstallModePassive
	}

	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}

	if o.Launcher == nil {
		o.Launcher = ExecLauncher{}
	}

	if o.Exit == nil {
		o.Exit = os.Exit
	}

	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}

	return o
}

// appName derives a file name prefix from the executable.
func (o Options) appName() string {
	base := baseName(o.ExecutablePath)

	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		return "app"
	}

	return name
}

// baseName is filepath.Base that accepts both separators, so Windows paths
// resolve the same way on every host.
func baseName(path string) string {
	return path[strings.LastIndexAny(path, `\/`)+1:]
}

// platformFormats lists which formats may be installed on which OS.
//
//nolint:gochecknoglobals // Read-only lookup table.
var platformFormats = map[release.Format]string{
	release.FormatNsis:     "windows",
	release.FormatWix:      "windows",
	release.FormatAppImage: "linux",
	release.FormatApp:      "darwin",
}

// New returns the installer strategy for the format.
//
//nolint:ireturn // The strategy is picked from a closed set by the format tag.
func New(format release.Format, opts Options) (Installer, error) {
	opts = opts.withDefaults()

	goos, known := platformFormats[format]
	if !known {
		return nil, fmt.Errorf("%w: %q", release.ErrUnsupportedUpdateFormat, format)
	}

	if goos != opts.GOOS {
		return nil, fmt.Errorf("%w: %s cannot be installed on %s", release.ErrUnsupportedUpdateFormat, format, opts.GOOS)
	}

	switch format {
	case release.FormatNsis:
		return &nsisInstaller{opts: opts}, nil
	case release.FormatWix:
		return &wixInstaller{opts: opts}, nil
	case release.FormatAppImage:
		if opts.ExtractPath == "" {
			return nil, errExtractPathRequired
		}

		return newAppImageInstaller(opts), nil
	case release.FormatApp:
		if opts.ExtractPath == "" {
			return nil, errExtractPathRequired
		}

		return &appInstaller{opts: opts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", release.ErrUnsupportedUpdateFormat, format)
	}
}

// stateMachine records the installation state for the strategies.
type stateMachine struct {
	state State
}

// State implements Installer.
func (m *stateMachine) State() State {
	return m.state
}

func (m *stateMachine) set(state State) {
	m.state = state
}
