// Package file wraps common file operations with logged, wrapped errors.
package file

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

// Write replaces the file's contents, creating it with mode 0644 if needed.
func Write(data string, filePath string) error {
	logger.Log.Debugf("Writing (%s)", filePath)
	err := os.WriteFile(filePath, []byte(data), 0o644)
	if err != nil {
		return fmt.Errorf("failed to write file (%s):\n%w", filePath, err)
	}
	return nil
}

// Append appends data to the file, creating it if needed.
func Append(data string, filePath string) error {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file (%s) for append:\n%w", filePath, err)
	}
	defer f.Close()

	_, err = f.WriteString(data)
	if err != nil {
		return fmt.Errorf("failed to append to file (%s):\n%w", filePath, err)
	}
	return f.Close()
}

// PathExists reports whether the path exists at all.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}
	return true, nil
}

// DirExists reports whether the path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}
	return info.IsDir(), nil
}

// IsFile reports whether the path exists and is a regular file.
func IsFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// CommandExists reports whether the command can be found on PATH.
func CommandExists(command string) (bool, error) {
	_, err := exec.LookPath(command)
	if err != nil {
		if _, isPathErr := err.(*exec.Error); isPathErr {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureDirExists creates the directory (and parents) if it is missing.
func EnsureDirExists(dirPath string) error {
	err := os.MkdirAll(dirPath, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory (%s):\n%w", dirPath, err)
	}
	return nil
}

// RemoveFileIfExists deletes the file, treating a missing file as success.
func RemoveFileIfExists(filePath string) error {
	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file (%s):\n%w", filePath, err)
	}
	return nil
}

// Copy copies a regular file, creating the destination's parent directory.
func Copy(src string, dst string) error {
	return NewFileCopyBuilder(src, dst).Run()
}

func copyFileContents(src string, dst string, fileMode os.FileMode, changeMode bool) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file (%s):\n%w", src, err)
	}
	defer srcFile.Close()

	mode := fileMode
	if !changeMode {
		info, err := srcFile.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat source file (%s):\n%w", src, err)
		}
		mode = info.Mode()
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to open destination file (%s):\n%w", dst, err)
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	if err != nil {
		return fmt.Errorf("failed to copy (%s) to (%s):\n%w", src, dst, err)
	}
	return dstFile.Close()
}

func ensureParentDir(path string, mode os.FileMode) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, mode)
	if err != nil {
		return fmt.Errorf("failed to create directory (%s):\n%w", dir, err)
	}
	return nil
}
