package fsys

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testFilesystemBasics(t *testing.T, fsys Filesystem, dir string) {
	path := filepath.Join(dir, "sub", "a.dat")
	assert.NoError(t, fsys.MkdirAll(filepath.Join(dir, "sub")))

	t.Run("missing", func(t *testing.T) {
		_, err := fsys.OpenReadable(path)
		assert.True(t, IsNotFound(err), err)
		assert.True(t, IsNotFound(fsys.DeleteFile(path)))
	})

	t.Run("write and read", func(t *testing.T) {
		w, err := fsys.OpenWritableAtomic(path)
		if !assert.NoError(t, err) {
			return
		}
		_, err = w.Write([]byte("hello "))
		assert.NoError(t, err)
		_, err = w.Write([]byte("world"))
		assert.NoError(t, err)
		assert.NoError(t, w.Sync())
		assert.NoError(t, w.Close())

		data, rerr := ReadFile(fsys, path)
		assert.NoError(t, rerr)
		assert.Equal(t, "hello world", string(data))

		r, _ := fsys.OpenReadable(path)
		buf := make([]byte, 5)
		n, _ := r.ReadAt(buf, 6)
		assert.Equal(t, 5, n)
		assert.Equal(t, "world", string(buf))
		r.Close()
	})

	t.Run("atomic create", func(t *testing.T) {
		_, err := fsys.OpenWritableAtomic(path)
		assert.True(t, IsAlreadyExists(err), err)
	})

	t.Run("writable keeps contents", func(t *testing.T) {
		w, err := fsys.OpenWritable(path)
		if !assert.NoError(t, err) {
			return
		}
		_, _ = w.Seek(0, io.SeekEnd)
		_, _ = w.Write([]byte("!"))
		assert.NoError(t, w.Close())
		data, _ := ReadFile(fsys, path)
		assert.Equal(t, "hello world!", string(data))
	})

	t.Run("mmap", func(t *testing.T) {
		mpath := filepath.Join(dir, "sub", "map")
		wm, err := fsys.OpenMmapWritable(mpath, 16)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, 16, len(wm.Bytes()))
		copy(wm.Bytes()[4:], "abcd")
		assert.NoError(t, wm.Flush())
		assert.NoError(t, wm.Close())

		rm, rerr := fsys.OpenMmapReadable(mpath)
		if !assert.NoError(t, rerr) {
			return
		}
		assert.Equal(t, "abcd", string(rm.Bytes()[4:8]))
		assert.NoError(t, rm.Close())
	})

	t.Run("readdir", func(t *testing.T) {
		entries, err := fsys.ReadDir(filepath.Join(dir, "sub"))
		assert.NoError(t, err)
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.Equal(t, []string{"a.dat", "map"}, names)
	})

	t.Run("lock", func(t *testing.T) {
		lpath := filepath.Join(dir, "lock")
		l1, err := fsys.Lock(lpath)
		if !assert.NoError(t, err) {
			return
		}
		_, err = fsys.Lock(lpath)
		assert.ErrorIs(t, err, ErrLocked)
		assert.NoError(t, l1.Close())
		l2, err := fsys.Lock(lpath)
		assert.NoError(t, err)
		l2.Close()
	})

	t.Run("delete", func(t *testing.T) {
		assert.NoError(t, fsys.DeleteFile(path))
		_, err := fsys.OpenReadable(path)
		assert.True(t, IsNotFound(err))
	})
}

func TestMemoryFilesystem(t *testing.T) {
	fsys := NewMemoryFilesystem()
	testFilesystemBasics(t, fsys, "/data")

	assert.NoError(t, fsys.LabelDir("/data/sub", "buf-1"))
	label, err := fsys.ReadDirLabel("/data/sub")
	assert.NoError(t, err)
	assert.Equal(t, "buf-1", label)
	_, err = fsys.ReadDirLabel("/data")
	assert.True(t, IsNotFound(err))
}

func TestOSFilesystem(t *testing.T) {
	fsys := NewOSFilesystem()
	dir := t.TempDir()
	testFilesystemBasics(t, fsys, dir)

	if err := fsys.LabelDir(dir, "buf-1"); err != nil {
		t.Skipf("xattr unsupported in %s: %v", dir, err)
	}
	label, err := fsys.ReadDirLabel(dir)
	assert.NoError(t, err)
	assert.Equal(t, "buf-1", label)
}

func TestFaultFilesystemBasics(t *testing.T) {
	testFilesystemBasics(t, NewFaultFilesystem(NewMemoryFilesystem()), "/data")
}
