package fsys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

type memoryFilesystem struct {
	aferoBase
	mutex  *sync.Mutex
	locks  map[string]bool
	labels map[string]string
}

// NewMemoryFilesystem creates an empty in-memory Filesystem
//
// Memory maps are emulated by copying file contents, and Flush writes the whole region back.
func NewMemoryFilesystem() Filesystem {
	return &memoryFilesystem{
		aferoBase: aferoBase{afero.NewMemMapFs()},
		mutex:     &sync.Mutex{},
		locks:     make(map[string]bool),
		labels:    make(map[string]string),
	}
}

func (mfs *memoryFilesystem) OpenMmapReadable(path string) (MmapFile, error) {
	return openEmulatedMmap(mfs, path, 0, false)
}

func (mfs *memoryFilesystem) OpenMmapWritable(path string, size int) (MmapFile, error) {
	return openEmulatedMmap(mfs, path, size, true)
}

func (mfs *memoryFilesystem) Lock(path string) (io.Closer, error) {
	path = filepath.Clean(path)
	mfs.mutex.Lock()
	defer mfs.mutex.Unlock()
	if mfs.locks[path] {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	file, err := mfs.OpenWritable(path)
	if err != nil {
		return nil, err
	}
	file.Close()
	mfs.locks[path] = true
	return &memoryLock{mfs, path}, nil
}

func (mfs *memoryFilesystem) LabelDir(path string, label string) error {
	if _, err := mfs.fs.Stat(path); err != nil {
		return err
	}
	mfs.mutex.Lock()
	defer mfs.mutex.Unlock()
	mfs.labels[filepath.Clean(path)] = label
	return nil
}

func (mfs *memoryFilesystem) ReadDirLabel(path string) (string, error) {
	mfs.mutex.Lock()
	defer mfs.mutex.Unlock()
	label, ok := mfs.labels[filepath.Clean(path)]
	if !ok {
		return "", &os.PathError{Op: "getxattr", Path: path, Err: os.ErrNotExist}
	}
	return label, nil
}

type memoryLock struct {
	mfs  *memoryFilesystem
	path string
}

func (l *memoryLock) Close() error {
	l.mfs.mutex.Lock()
	defer l.mfs.mutex.Unlock()
	delete(l.mfs.locks, l.path)
	return nil
}
