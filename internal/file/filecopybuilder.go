package file

import (
	"fmt"
	"os"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

// FileCopyBuilder copies a single file with optional mode overrides.
type FileCopyBuilder struct {
	Src            string
	Dst            string
	DirFileMode    os.FileMode
	ChangeFileMode bool
	FileMode       os.FileMode
}

func NewFileCopyBuilder(src string, dst string) FileCopyBuilder {
	return FileCopyBuilder{
		Src:         src,
		Dst:         dst,
		DirFileMode: os.ModePerm,
	}
}

func (b FileCopyBuilder) SetFileMode(fileMode os.FileMode) FileCopyBuilder {
	b.ChangeFileMode = true
	b.FileMode = fileMode
	return b
}

func (b FileCopyBuilder) Run() error {
	logger.Log.Debugf("Copying (%s) to (%s)", b.Src, b.Dst)

	isFile, err := IsFile(b.Src)
	if err != nil {
		return err
	}
	if !isFile {
		return fmt.Errorf("source (%s) is not a regular file", b.Src)
	}

	err = ensureParentDir(b.Dst, b.DirFileMode)
	if err != nil {
		return err
	}

	return copyFileContents(b.Src, b.Dst, b.FileMode, b.ChangeFileMode)
}
