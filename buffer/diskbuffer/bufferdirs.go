package diskbuffer

import (
	"path/filepath"
	"sort"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
)

const dataDirHashLength = 8

// DataDirInfo describes an existing data dir under a root path
type DataDirInfo struct {
	BufferID string
	Path     string
	Segments int
}

// MakeDataDir creates the data dir of the given buffer ID under rootPath and returns its path
//
// The dir name is made of sanitized buffer ID and a hash to prevent collision, while the original ID is stored as a
// label (extended attribute) on the dir itself.
func MakeDataDir(parentLogger logger.Logger, fs fsys.Filesystem, rootPath string, bufferID string) (string, error) {
	path := rootPath
	if bufferID != "" {
		dirname := sanitizeDirName(bufferID)
		if dirname != bufferID {
			parentLogger.Warnf("unclean buffer ID as dirname: '%s'", bufferID)
		}
		hash := util.MD5ToHexdigest(bufferID)
		path = filepath.Join(rootPath, dirname+"."+hash[len(hash)-dataDirHashLength:])
	}
	if err := fs.MkdirAll(path); err != nil {
		return "", err
	}
	if err := fs.LabelDir(path, bufferID); err != nil {
		parentLogger.Errorf("error labelling id on data dir path='%s': %s", path, err.Error())
	}
	return path, nil
}

// ListDataDirs finds labelled data dirs under rootPath, sorted by dir name
func ListDataDirs(parentLogger logger.Logger, fs fsys.Filesystem, rootPath string) ([]DataDirInfo, error) {
	entries, rerr := fs.ReadDir(rootPath)
	if rerr != nil {
		if fsys.IsNotFound(rerr) {
			return nil, nil
		}
		return nil, rerr
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := make([]DataDirInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(rootPath, entry.Name())
		id, lerr := fs.ReadDirLabel(path)
		if lerr != nil {
			parentLogger.Warnf("ignore data dir without id, path='%s': %s", path, lerr.Error())
			continue
		}
		if id == "" {
			parentLogger.Warnf("ignore data dir with empty id, path='%s'", path)
			continue
		}
		segments, serr := fs.ReadDir(filepath.Join(path, defs.SegmentsDirName))
		if serr != nil && !fsys.IsNotFound(serr) {
			parentLogger.Errorf("error scanning segments path='%s': %s", path, serr.Error())
			continue
		}
		numSegments := 0
		for _, seg := range segments {
			if _, ok := parseSegmentFileName(seg.Name()); ok {
				numSegments++
			}
		}
		result = append(result, DataDirInfo{BufferID: id, Path: path, Segments: numSegments})
	}
	return result, nil
}

func sanitizeDirName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case 0, '/', '\\':
			c = '_'
		}
		result[i] = c
	}
	if string(result) == "." || string(result) == ".." {
		return "_"
	}
	return string(result)
}
