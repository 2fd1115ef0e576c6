package fsys

import (
	"os"
)

// emulatedMmap keeps a copy of file contents in memory and writes it back through the owning Filesystem on Flush
type emulatedMmap struct {
	owner    Filesystem
	path     string
	data     []byte
	writable bool
}

func openEmulatedMmap(owner Filesystem, path string, size int, writable bool) (MmapFile, error) {
	data, rerr := ReadFile(owner, path)
	switch {
	case rerr == nil:
	case writable && IsNotFound(rerr):
		data = nil
	default:
		return nil, rerr
	}

	m := &emulatedMmap{owner: owner, path: path, writable: writable}
	if writable && len(data) < size {
		m.data = make([]byte, size)
		copy(m.data, data)
		if err := m.Flush(); err != nil {
			return nil, err
		}
	} else {
		m.data = data
	}
	return m, nil
}

func (m *emulatedMmap) Bytes() []byte {
	return m.data
}

func (m *emulatedMmap) Flush() error {
	if !m.writable {
		return nil
	}
	if m.data == nil {
		return os.ErrClosed
	}
	file, oerr := m.owner.OpenWritable(m.path)
	if oerr != nil {
		return oerr
	}
	if _, err := file.Write(m.data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (m *emulatedMmap) Close() error {
	m.data = nil
	return nil
}
