package fsys

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/xattr"
	"github.com/relex/slog-buffer/defs"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

type osFilesystem struct {
	aferoBase
}

// NewOSFilesystem creates a Filesystem on top of the real OS filesystem
//
// Memory maps are real mmap(2) regions, locks are flock(2) and directory labels are extended attributes.
func NewOSFilesystem() Filesystem {
	return &osFilesystem{aferoBase{afero.NewOsFs()}}
}

func (ofs *osFilesystem) OpenMmapReadable(path string) (MmapFile, error) {
	file, oerr := os.Open(path)
	if oerr != nil {
		return nil, oerr
	}
	defer file.Close()

	stat, serr := file.Stat()
	if serr != nil {
		return nil, serr
	}
	if stat.Size() == 0 {
		return &osMmap{}, nil
	}
	data, merr := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if merr != nil {
		return nil, &os.PathError{Op: "mmap", Path: path, Err: merr}
	}
	return &osMmap{data: data}, nil
}

func (ofs *osFilesystem) OpenMmapWritable(path string, size int) (MmapFile, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid mmap size %d for %s", size, path)
	}
	file, oerr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if oerr != nil {
		return nil, oerr
	}
	defer file.Close()

	stat, serr := file.Stat()
	if serr != nil {
		return nil, serr
	}
	if stat.Size() < int64(size) {
		if err := file.Truncate(int64(size)); err != nil {
			return nil, err
		}
	}
	data, merr := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if merr != nil {
		return nil, &os.PathError{Op: "mmap", Path: path, Err: merr}
	}
	return &osMmap{data: data, writable: true}, nil
}

func (ofs *osFilesystem) Lock(path string) (io.Closer, error) {
	file, oerr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if oerr != nil {
		return nil, oerr
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, &os.PathError{Op: "flock", Path: path, Err: err}
	}
	return file, nil // closing releases the lock
}

func (ofs *osFilesystem) LabelDir(path string, label string) error {
	return xattr.Set(path, defs.DataDirXattrName, []byte(label))
}

func (ofs *osFilesystem) ReadDirLabel(path string) (string, error) {
	value, err := xattr.Get(path, defs.DataDirXattrName)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

type osMmap struct {
	data     []byte
	writable bool
}

func (m *osMmap) Bytes() []byte {
	return m.data
}

func (m *osMmap) Flush() error {
	if !m.writable || len(m.data) == 0 {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *osMmap) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
