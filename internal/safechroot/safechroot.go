// Package safechroot runs commands inside an image's root filesystem.
//
// Commands go through systemd-nspawn rather than a plain chroot: nspawn
// scopes the container's mounts and processes, and tears everything down
// when the command exits.
package safechroot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/shell"
)

// EnvFilePath is where the build environment file lands inside the image.
// Scripts source it to reach the exported partition identifiers.
const EnvFilePath = "/tmp/spec.sh"

// Chroot is a target root filesystem commands can be run in.
type Chroot struct {
	rootDir string
	binds   []string
}

// NewChroot returns a Chroot for the root filesystem mounted at rootDir.
// Each entry of binds is bind-mounted into the container for the duration
// of every command.
func NewChroot(rootDir string, binds []string) *Chroot {
	return &Chroot{
		rootDir: rootDir,
		binds:   binds,
	}
}

func (c *Chroot) nspawnArgs(extra ...string) []string {
	args := []string{"-q", "-D", c.rootDir}
	for _, bind := range c.binds {
		args = append(args, fmt.Sprintf("--bind=%s", bind))
	}
	args = append(args, "--")
	return append(args, extra...)
}

// Run executes the program with its arguments inside the container.
func (c *Chroot) Run(program string, args ...string) error {
	nspawnArgs := c.nspawnArgs(append([]string{program}, args...)...)
	return shell.NewExecBuilder("systemd-nspawn", nspawnArgs...).
		LogLevel(logrus.DebugLevel, logrus.WarnLevel).
		ErrorStderrLines(shell.DefaultWarnLogLines).
		Execute()
}

// RunScript copies the script into the container's /tmp, then runs it with
// the given shell after sourcing the build environment file. The positional
// $0 is set to the script path so error messages name the right file.
func (c *Chroot) RunScript(scriptPath string, scriptShell string) error {
	if scriptShell == "" {
		scriptShell = "/bin/bash"
	}

	scriptName := filepath.Base(scriptPath)
	innerPath := filepath.Join("/tmp", scriptName)
	err := file.NewFileCopyBuilder(scriptPath, filepath.Join(c.rootDir, "tmp", scriptName)).
		SetFileMode(0o755).
		Run()
	if err != nil {
		return fmt.Errorf("failed to copy script (%s) into the container:\n%w", scriptPath, err)
	}
	defer os.Remove(filepath.Join(c.rootDir, "tmp", scriptName))

	fullScript := fmt.Sprintf("source %s ; source %s", EnvFilePath, innerPath)
	err = c.Run(scriptShell, "-c", "--", fullScript, innerPath)
	if err != nil {
		return fmt.Errorf("failed to run script (%s) in the container:\n%w", scriptName, err)
	}
	return nil
}
