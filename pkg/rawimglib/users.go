package rawimglib

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/shell"
)

// defaultUserGroups are the groups the built-in user joins; wheel grants
// sudo on AOSC OS.
var defaultUserGroups = []string{"audio", "video", "cdrom", "plugdev", "tty", "wheel"}

// addUser creates a user inside the image and sets its password. shadow
// offers no library interface for this, so useradd and chpasswd run under
// a plain chroot.
func addUser(rootDir string, name string, password string, comment string, homeDir string,
	groups []string,
) error {
	if homeDir == "" {
		homeDir = filepath.Join("/home", name)
	}
	if groups == nil {
		groups = defaultUserGroups
	}

	args := []string{rootDir, "useradd", "-m", "-d", homeDir, "-G", strings.Join(groups, ",")}
	if comment != "" {
		args = append(args, "-c", comment)
	}
	args = append(args, name)
	err := shell.ExecuteLiveWithErr(shell.DefaultWarnLogLines, "chroot", args...)
	if err != nil {
		return fmt.Errorf("failed to create user (%s):\n%w", name, err)
	}

	_, _, err = shell.ExecuteWithStdin(fmt.Sprintf("%s:%s", name, password),
		"chroot", rootDir, "chpasswd")
	if err != nil {
		return fmt.Errorf("failed to set the password for user (%s):\n%w", name, err)
	}
	return nil
}

// setLocale writes the system locale configuration.
func setLocale(rootDir string, locale string) error {
	content := fmt.Sprintf("LANG=%q", locale)
	err := file.Write(content, filepath.Join(rootDir, "etc/locale.conf"))
	if err != nil {
		return fmt.Errorf("failed to write the locale configuration:\n%w", err)
	}
	return nil
}
