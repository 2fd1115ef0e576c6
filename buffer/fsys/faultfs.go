package fsys

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gobwas/glob"
)

// FaultOp is the kind of file operation a Fault applies to
type FaultOp int

// FaultOp values
const (
	FaultOpOpen FaultOp = iota
	FaultOpRead
	FaultOpWrite
	FaultOpSync
	FaultOpDelete
)

func (op FaultOp) String() string {
	switch op {
	case FaultOpOpen:
		return "open"
	case FaultOpRead:
		return "read"
	case FaultOpWrite:
		return "write"
	case FaultOpSync:
		return "sync"
	case FaultOpDelete:
		return "delete"
	default:
		return fmt.Sprintf("FaultOp(%d)", int(op))
	}
}

// Fault defines an error to inject into operations on matching paths
type Fault struct {
	Op  FaultOp
	Err error // returned error, wrapped in os.PathError

	// AfterBytes is the number of bytes still allowed to be written before a write fault triggers. The write crossing
	// the boundary is torn: the allowed part is written before the error is returned.
	AfterBytes int64

	// Times is the number of times the fault triggers before it's removed, or 0 for unlimited
	Times int
}

type activeFault struct {
	Fault
	pattern string
	matcher glob.Glob
}

// fileState tracks the durable contents of a file, i.e. what would be left after a crash
type fileState struct {
	durable       []byte
	durablyExists bool
}

// FaultFilesystem wraps a Filesystem to inject errors and simulate crashes for tests
//
// Memory maps are always emulated on top of the wrapper, so their writes are subject to faults too.
type FaultFilesystem struct {
	inner      Filesystem
	mutex      sync.Mutex
	faults     []*activeFault
	files      map[string]*fileState
	locks      []io.Closer
	generation int
}

// NewFaultFilesystem creates a FaultFilesystem on top of the given filesystem
func NewFaultFilesystem(inner Filesystem) *FaultFilesystem {
	return &FaultFilesystem{
		inner: inner,
		files: make(map[string]*fileState),
	}
}

// Inject adds a fault for paths matching the glob pattern, where '/' is the separator
func (ffs *FaultFilesystem) Inject(pattern string, fault Fault) {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	ffs.faults = append(ffs.faults, &activeFault{
		Fault:   fault,
		pattern: pattern,
		matcher: glob.MustCompile(pattern, '/'),
	})
}

// DenyPermission makes the given operation on matching paths fail with permission denied
func (ffs *FaultFilesystem) DenyPermission(pattern string, op FaultOp) {
	ffs.Inject(pattern, Fault{Op: op, Err: os.ErrPermission})
}

// TearNextWrite makes the next write to a matching path write only the first keepBytes and then fail
func (ffs *FaultFilesystem) TearNextWrite(pattern string, keepBytes int64) {
	ffs.Inject(pattern, Fault{Op: FaultOpWrite, Err: syscall.EIO, AfterBytes: keepBytes, Times: 1})
}

// FillDisk makes writes to matching paths fail with ENOSPC after the given number of bytes
func (ffs *FaultFilesystem) FillDisk(pattern string, afterBytes int64) {
	ffs.Inject(pattern, Fault{Op: FaultOpWrite, Err: syscall.ENOSPC, AfterBytes: afterBytes})
}

// ClearFaults removes all injected faults
func (ffs *FaultFilesystem) ClearFaults() {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	ffs.faults = nil
}

// CorruptBytes inverts bytes of an existing file at the given offset, in both current and durable contents
func (ffs *FaultFilesystem) CorruptBytes(path string, offset int64, length int) error {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()

	data, rerr := ReadFile(ffs.inner, path)
	if rerr != nil {
		return rerr
	}
	if offset < 0 || offset+int64(length) > int64(len(data)) {
		return fmt.Errorf("corrupt range %d+%d out of file size %d: %s", offset, length, len(data), path)
	}
	invert := func(buf []byte) {
		for i := offset; i < offset+int64(length) && i < int64(len(buf)); i++ {
			buf[i] ^= 0xFF
		}
	}
	invert(data)
	if state, ok := ffs.files[ffs.key(path)]; ok {
		invert(state.durable)
	}
	return WriteFile(ffs.inner, path, data)
}

// TruncateFile cuts an existing file to the given size, in both current and durable contents
func (ffs *FaultFilesystem) TruncateFile(path string, size int64) error {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()

	data, rerr := ReadFile(ffs.inner, path)
	if rerr != nil {
		return rerr
	}
	if size < int64(len(data)) {
		data = data[:size]
	}
	if state, ok := ffs.files[ffs.key(path)]; ok && size < int64(len(state.durable)) {
		state.durable = state.durable[:size]
	}
	return WriteFile(ffs.inner, path, data)
}

// Crash simulates a crash of the process and the machine: every file written through this wrapper is reverted to
// the contents at its last Sync, and files never synced are deleted. Locks are released and all handles opened
// before are invalidated. Faults are kept.
func (ffs *FaultFilesystem) Crash() error {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()

	ffs.generation++
	for _, lock := range ffs.locks {
		lock.Close()
	}
	ffs.locks = nil

	var firstErr error
	for path, state := range ffs.files {
		var err error
		if state.durablyExists {
			err = WriteFile(ffs.inner, path, state.durable)
		} else if derr := ffs.inner.DeleteFile(path); derr != nil && !IsNotFound(derr) {
			err = derr
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ffs.files = make(map[string]*fileState)
	return firstErr
}

func (ffs *FaultFilesystem) key(path string) string {
	return filepath.Clean(path)
}

// checkFault finds a matching fault for non-write operations; must be called with mutex held
func (ffs *FaultFilesystem) checkFault(op FaultOp, path string) error {
	for i, f := range ffs.faults {
		if f.Op != op || !f.matcher.Match(ffs.key(path)) {
			continue
		}
		ffs.consumeFault(i)
		return &os.PathError{Op: op.String(), Path: path, Err: f.Err}
	}
	return nil
}

// allowWrite returns how many bytes of a write of the given length may be written, and the error to return after;
// must be called with mutex held
func (ffs *FaultFilesystem) allowWrite(path string, length int) (int, error) {
	for i, f := range ffs.faults {
		if f.Op != FaultOpWrite || !f.matcher.Match(ffs.key(path)) {
			continue
		}
		if int64(length) <= f.AfterBytes {
			f.AfterBytes -= int64(length)
			return length, nil
		}
		allowed := int(f.AfterBytes)
		f.AfterBytes = 0
		ffs.consumeFault(i)
		return allowed, &os.PathError{Op: "write", Path: path, Err: f.Err}
	}
	return length, nil
}

func (ffs *FaultFilesystem) consumeFault(index int) {
	f := ffs.faults[index]
	if f.Times == 0 {
		return
	}
	f.Times--
	if f.Times == 0 {
		ffs.faults = append(ffs.faults[:index], ffs.faults[index+1:]...)
	}
}

// track starts tracking durable contents of a file about to be written; must be called with mutex held
func (ffs *FaultFilesystem) track(path string) {
	key := ffs.key(path)
	if _, ok := ffs.files[key]; ok {
		return
	}
	state := &fileState{}
	if data, err := ReadFile(ffs.inner, path); err == nil {
		// contents present before the first write through this wrapper are considered durable
		state.durable = data
		state.durablyExists = true
	}
	ffs.files[key] = state
}

func (ffs *FaultFilesystem) openForWrite(path string, open func(string) (File, error)) (File, error) {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	if err := ffs.checkFault(FaultOpOpen, path); err != nil {
		return nil, err
	}
	ffs.track(path)
	file, err := open(path)
	if err != nil {
		return nil, err
	}
	return &faultFile{ffs: ffs, inner: file, path: path, generation: ffs.generation}, nil
}

// OpenWritable opens or creates a file for writing
func (ffs *FaultFilesystem) OpenWritable(path string) (File, error) {
	return ffs.openForWrite(path, ffs.inner.OpenWritable)
}

// OpenWritableAtomic creates a new file for writing
func (ffs *FaultFilesystem) OpenWritableAtomic(path string) (File, error) {
	return ffs.openForWrite(path, ffs.inner.OpenWritableAtomic)
}

// OpenReadable opens an existing file for reading
func (ffs *FaultFilesystem) OpenReadable(path string) (File, error) {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	if err := ffs.checkFault(FaultOpOpen, path); err != nil {
		return nil, err
	}
	file, err := ffs.inner.OpenReadable(path)
	if err != nil {
		return nil, err
	}
	return &faultFile{ffs: ffs, inner: file, path: path, generation: ffs.generation}, nil
}

// OpenMmapReadable maps an existing file read-only
func (ffs *FaultFilesystem) OpenMmapReadable(path string) (MmapFile, error) {
	return openEmulatedMmap(ffs, path, 0, false)
}

// OpenMmapWritable maps a file read-write
func (ffs *FaultFilesystem) OpenMmapWritable(path string, size int) (MmapFile, error) {
	return openEmulatedMmap(ffs, path, size, true)
}

// DeleteFile deletes an existing file. Deletion is durable immediately.
func (ffs *FaultFilesystem) DeleteFile(path string) error {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	if err := ffs.checkFault(FaultOpDelete, path); err != nil {
		return err
	}
	if err := ffs.inner.DeleteFile(path); err != nil {
		return err
	}
	delete(ffs.files, ffs.key(path))
	return nil
}

// MkdirAll creates a directory with all missing parents
func (ffs *FaultFilesystem) MkdirAll(path string) error {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	if err := ffs.checkFault(FaultOpOpen, path); err != nil {
		return err
	}
	return ffs.inner.MkdirAll(path)
}

// ReadDir lists entries in a directory
func (ffs *FaultFilesystem) ReadDir(path string) ([]os.FileInfo, error) {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	if err := ffs.checkFault(FaultOpRead, path); err != nil {
		return nil, err
	}
	return ffs.inner.ReadDir(path)
}

// Lock takes the exclusive lock on the given path; the lock is released by Crash
func (ffs *FaultFilesystem) Lock(path string) (io.Closer, error) {
	ffs.mutex.Lock()
	defer ffs.mutex.Unlock()
	if err := ffs.checkFault(FaultOpOpen, path); err != nil {
		return nil, err
	}
	lock, err := ffs.inner.Lock(path)
	if err != nil {
		return nil, err
	}
	ffs.locks = append(ffs.locks, lock)
	return lock, nil
}

// LabelDir attaches a label to a directory
func (ffs *FaultFilesystem) LabelDir(path string, label string) error {
	return ffs.inner.LabelDir(path, label)
}

// ReadDirLabel reads the label attached by LabelDir
func (ffs *FaultFilesystem) ReadDirLabel(path string) (string, error) {
	return ffs.inner.ReadDirLabel(path)
}

type faultFile struct {
	ffs        *FaultFilesystem
	inner      File
	path       string
	generation int
}

// check verifies the handle is still valid and applies faults of the given op; must be called with mutex held
func (f *faultFile) check(op FaultOp) error {
	if f.generation != f.ffs.generation {
		return &os.PathError{Op: op.String(), Path: f.path, Err: os.ErrClosed}
	}
	return f.ffs.checkFault(op, f.path)
}

func (f *faultFile) Read(p []byte) (int, error) {
	f.ffs.mutex.Lock()
	err := f.check(FaultOpRead)
	f.ffs.mutex.Unlock()
	if err != nil {
		return 0, err
	}
	return f.inner.Read(p)
}

func (f *faultFile) ReadAt(p []byte, off int64) (int, error) {
	f.ffs.mutex.Lock()
	err := f.check(FaultOpRead)
	f.ffs.mutex.Unlock()
	if err != nil {
		return 0, err
	}
	return f.inner.ReadAt(p, off)
}

func (f *faultFile) Write(p []byte) (int, error) {
	f.ffs.mutex.Lock()
	defer f.ffs.mutex.Unlock()
	if f.generation != f.ffs.generation {
		return 0, &os.PathError{Op: "write", Path: f.path, Err: os.ErrClosed}
	}
	allowed, ferr := f.ffs.allowWrite(f.path, len(p))
	n, werr := f.inner.Write(p[:allowed])
	if werr != nil {
		return n, werr
	}
	return n, ferr
}

func (f *faultFile) Seek(offset int64, whence int) (int64, error) {
	return f.inner.Seek(offset, whence)
}

func (f *faultFile) Close() error {
	return f.inner.Close()
}

func (f *faultFile) Name() string {
	return f.path
}

func (f *faultFile) Sync() error {
	f.ffs.mutex.Lock()
	defer f.ffs.mutex.Unlock()
	if err := f.check(FaultOpSync); err != nil {
		return err
	}
	if err := f.inner.Sync(); err != nil {
		return err
	}
	if state, ok := f.ffs.files[f.ffs.key(f.path)]; ok {
		data, rerr := ReadFile(f.ffs.inner, f.path)
		if rerr != nil {
			return rerr
		}
		state.durable = data
		state.durablyExists = true
	}
	return nil
}

func (f *faultFile) Truncate(size int64) error {
	f.ffs.mutex.Lock()
	defer f.ffs.mutex.Unlock()
	if f.generation != f.ffs.generation {
		return &os.PathError{Op: "truncate", Path: f.path, Err: os.ErrClosed}
	}
	return f.inner.Truncate(size)
}

func (f *faultFile) Stat() (os.FileInfo, error) {
	return f.inner.Stat()
}
