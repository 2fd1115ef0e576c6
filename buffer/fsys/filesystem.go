// Package fsys provides the filesystem abstraction used by disk buffers
//
// All file access of disk buffers goes through Filesystem, so the same ledger and segment code can run on the real OS
// filesystem, on an in-memory one, or on a fault-injecting wrapper in tests.
package fsys

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"
)

// ErrLocked is returned by Filesystem.Lock if the path is already locked by another owner
var ErrLocked = errors.New("locked by another owner")

// File is an opened file
type File interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.Seeker
	io.Closer

	// Name returns the path given to open the file
	Name() string

	// Sync commits written contents to stable storage
	Sync() error

	// Truncate changes the size of file
	Truncate(size int64) error

	// Stat returns the file info
	Stat() (os.FileInfo, error)
}

// MmapFile is a memory-mapped file
type MmapFile interface {
	// Bytes returns the mapped region, which is only valid until Close
	//
	// For writable maps, changes are visible to other readers of the file after Flush
	Bytes() []byte

	// Flush commits changes of the mapped region to stable storage. It does nothing for read-only maps.
	Flush() error

	// Close unmaps the file. Unflushed changes may be lost.
	Close() error
}

// Filesystem abstracts file operations needed by disk buffers
//
// Errors should be checked by IsNotFound, IsAlreadyExists and IsPermissionDenied rather than comparing directly
type Filesystem interface {
	// OpenWritable opens or creates a file for writing, positioned at the start without truncation
	OpenWritable(path string) (File, error)

	// OpenWritableAtomic creates a new file for writing, failing with IsAlreadyExists if it exists
	OpenWritableAtomic(path string) (File, error)

	// OpenReadable opens an existing file for reading, failing with IsNotFound if it doesn't exist
	OpenReadable(path string) (File, error)

	// OpenMmapReadable maps an existing file read-only
	OpenMmapReadable(path string) (MmapFile, error)

	// OpenMmapWritable maps a file read-write, creating it or extending it to the given size first
	OpenMmapWritable(path string, size int) (MmapFile, error)

	// DeleteFile deletes an existing file, failing with IsNotFound if it doesn't exist
	DeleteFile(path string) error

	// MkdirAll creates a directory with all missing parents
	MkdirAll(path string) error

	// ReadDir lists entries in a directory, sorted by name
	ReadDir(path string) ([]os.FileInfo, error)

	// Lock takes the exclusive lock on the given path, creating the lock file if missing
	//
	// Fails immediately with ErrLocked if it's held elsewhere. The lock is released by closing the returned handle.
	Lock(path string) (io.Closer, error)

	// LabelDir attaches a label to a directory, e.g. the ID of the buffer stored in it
	LabelDir(path string, label string) error

	// ReadDirLabel reads the label attached by LabelDir
	ReadDirLabel(path string) (string, error)
}

// IsNotFound checks whether the error is caused by a missing file or directory
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// IsAlreadyExists checks whether the error is caused by an existing file
func IsAlreadyExists(err error) bool {
	return errors.Is(err, fs.ErrExist)
}

// IsPermissionDenied checks whether the error is caused by lack of permission
func IsPermissionDenied(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

// IsNoSpace checks whether the error is caused by a full disk
func IsNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// ReadFile reads full contents of a file from the given filesystem
func ReadFile(fsys Filesystem, path string) ([]byte, error) {
	file, oerr := fsys.OpenReadable(path)
	if oerr != nil {
		return nil, oerr
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteFile replaces full contents of a file in the given filesystem and syncs it
func WriteFile(fsys Filesystem, path string, data []byte) error {
	file, oerr := fsys.OpenWritable(path)
	if oerr != nil {
		return oerr
	}
	if err := file.Truncate(0); err != nil {
		file.Close()
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
