package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/logger"
)

const (
	// installerDirPattern names the directory the Windows installer is written to.
	installerDirPattern = "bundle-updater-"
	// installerFileMode is the mode of the written installer.
	installerFileMode os.FileMode = 0o600
	// defaultSystemRoot is used when SYSTEMROOT is not set.
	defaultSystemRoot = `C:\Windows`
)

// nsisFlags maps install modes to NSIS switches.
func nsisFlags(mode config.InstallMode) []string {
	switch mode {
	case config.InstallModeQuiet:
		return []string{"/S", "/R"}
	case config.InstallModePassive:
		return []string{"/P", "/R"}
	default:
		return nil
	}
}

// msiFlags maps install modes to msiexec switches.
func msiFlags(mode config.InstallMode) []string {
	switch mode {
	case config.InstallModeQuiet:
		return []string{"/quiet"}
	case config.InstallModePassive:
		return []string{"/passive"}
	default:
		return []string{"/qb+"}
	}
}

// systemRoot returns the Windows directory.
func systemRoot() string {
	if root := os.Getenv("SYSTEMROOT"); root != "" {
		return root
	}

	return defaultSystemRoot
}

// writeInstaller saves the payload into a fresh temporary directory.
func writeInstaller(opts Options, extension string, payload []byte) (string, error) {
	dir, err := os.MkdirTemp(opts.TempDir, installerDirPattern)
	if err != nil {
		return "", fmt.Errorf("create installer directory: %w", err)
	}

	installerPath := filepath.Join(dir, opts.appName()+"-installer"+extension)

	if err = os.WriteFile(installerPath, payload, installerFileMode); err != nil {
		_ = os.RemoveAll(dir)

		return "", fmt.Errorf("write installer: %w", err)
	}

	return installerPath, nil
}

// exitAfterHandoff runs the exit hook and terminates the process.
func exitAfterHandoff(ctx context.Context, opts Options) {
	logger.Info(ctx, "Installer started, exiting")

	if opts.OnBeforeExit != nil {
		opts.OnBeforeExit()
	}

	opts.Exit(0)
}

// nsisInstaller runs an NSIS setup executable.
type nsisInstaller struct {
	stateMachine

	opts Options
}

// Install implements Installer.
func (i *nsisInstaller) Install(ctx context.Context, payload []byte) error {
	installerPath, err := writeInstaller(i.opts, ".exe", payload)
	if err != nil {
		return err
	}

	i.set(StateStaged)

	args := append(nsisFlags(i.opts.InstallMode), i.opts.InstallerArgs...)

	logger.InfoKV(ctx, "Starting NSIS installer", "path", installerPath, "args", args)

	if err = i.opts.Launcher.Start(ctx, installerPath, args...); err != nil {
		_ = os.RemoveAll(filepath.Dir(installerPath))

		i.set(StateRolledBack)

		return fmt.Errorf("start installer: %w", err)
	}

	i.set(StateInstalled)

	exitAfterHandoff(ctx, i.opts)

	return nil
}

// wixInstaller runs an MSI package through msiexec.
type wixInstaller struct {
	stateMachine

	opts Options
}

// Install implements Installer.
func (i *wixInstaller) Install(ctx context.Context, payload []byte) error {
	msiPath, err := writeInstaller(i.opts, ".msi", payload)
	if err != nil {
		return err
	}

	i.set(StateStaged)

	root := systemRoot()
	powershell := filepath.Join(root, "System32", "WindowsPowerShell", "v1.0", "powershell.exe")

	psArgs := powerShellArgs(root, msiPath, i.opts.ExecutablePath, i.msiArgs())

	logger.InfoKV(ctx, "Starting MSI installer through PowerShell", "path", msiPath)

	err = i.opts.Launcher.Start(ctx, powershell, psArgs...)
	if err != nil {
		logger.WarnKV(ctx, "PowerShell is unavailable, running msiexec directly", "error", err)

		msiexec := filepath.Join(root, "System32", "msiexec.exe")
		args := append([]string{"/i", msiPath}, i.msiArgs()...)

		if err = i.opts.Launcher.Start(ctx, msiexec, args...); err != nil {
			_ = os.RemoveAll(filepath.Dir(msiPath))

			i.set(StateRolledBack)

			return fmt.Errorf("start msiexec: %w", err)
		}
	}

	i.set(StateInstalled)

	exitAfterHandoff(ctx, i.opts)

	return nil
}

// msiArgs are the msiexec switches after the package path.
func (i *wixInstaller) msiArgs() []string {
	args := append(msiFlags(i.opts.InstallMode), i.opts.InstallerArgs...)

	return append(args, "/promptrestart")
}

// powerShellArgs waits for msiexec and relaunches the application once it finishes.
func powerShellArgs(root, msiPath, executablePath string, msiArgs []string) []string {
	argumentList := make([]string, 0, len(msiArgs)+2)
	argumentList = append(argumentList, psQuote("/i"), psQuote(`"`+msiPath+`"`))

	for _, arg := range msiArgs {
		argumentList = append(argumentList, psQuote(arg))
	}

	msiexec := filepath.Join(root, "System32", "msiexec.exe")
	script := "Start-Process -Wait -FilePath " + psQuote(msiexec) +
		" -ArgumentList " + strings.Join(argumentList, ", ")

	if executablePath != "" {
		script += "; Start-Process -FilePath " + psQuote(executablePath)
	}

	return []string{"-NoProfile", "-WindowStyle", "Hidden", "-Command", script}
}

// psQuote wraps s in a PowerShell single-quoted string.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
