package fsys

import (
	"os"

	"github.com/spf13/afero"
)

// aferoBase implements the plain file operations shared by OS and memory filesystems
type aferoBase struct {
	fs afero.Fs
}

func (b aferoBase) OpenWritable(path string) (File, error) {
	return b.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
}

func (b aferoBase) OpenWritableAtomic(path string) (File, error) {
	return b.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

func (b aferoBase) OpenReadable(path string) (File, error) {
	return b.fs.Open(path)
}

func (b aferoBase) DeleteFile(path string) error {
	// MemMapFs removes missing files silently in some versions
	if _, err := b.fs.Stat(path); err != nil {
		return err
	}
	return b.fs.Remove(path)
}

func (b aferoBase) MkdirAll(path string) error {
	return b.fs.MkdirAll(path, 0o755)
}

func (b aferoBase) ReadDir(path string) ([]os.FileInfo, error) {
	return afero.ReadDir(b.fs, path)
}
