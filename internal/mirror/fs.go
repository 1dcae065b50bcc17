package mirror

import (
	"io/fs"
	"os"
)

// FileSystem is the disk surface the mirror reads. Lstat is used for every
// entry below the root so symbolic links are mirrored but never followed.
type FileSystem interface {
	Stat(path string) (fs.FileInfo, error)
	Lstat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	ReadFile(path string) ([]byte, error)
}

type osFS struct{}

func (osFS) Stat(path string) (fs.FileInfo, error)      { return os.Stat(path) }
func (osFS) Lstat(path string) (fs.FileInfo, error)     { return os.Lstat(path) }
func (osFS) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }
func (osFS) ReadFile(path string) ([]byte, error)       { return os.ReadFile(path) }

// OS returns the FileSystem backed by the host operating system.
func OS() FileSystem {
	return osFS{}
}
