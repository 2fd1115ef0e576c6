package diskbuffer

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataDirs(t *testing.T) {
	fs := fsys.NewMemoryFilesystem()
	cfg := newTestConfig(256*datasize.KB, 1024)

	path, err := MakeDataDir(logger.Root(), fs, "/root", "pipeline/a")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "/root/pipeline_a."), path)
	assert.Len(t, filepath.Base(path), len("pipeline_a.")+dataDirHashLength)

	path2, _ := MakeDataDir(logger.Root(), fs, "/root", "pipeline_a")
	assert.NotEqual(t, path, path2)

	emptyPath, err := MakeDataDir(logger.Root(), fs, "/root", "empty")
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll("/root/unlabelled"))

	buf, berr := Open[testRecord](logger.Root(), fs, path, cfg, testRecordCodec{}, newTestMetricCreator())
	require.NoError(t, berr)
	writeTestRecords(t, buf, 0, 40)
	assert.NoError(t, buf.Close())

	dirs, lerr := ListDataDirs(logger.Root(), fs, "/root")
	assert.NoError(t, lerr)
	assert.ElementsMatch(t, []DataDirInfo{
		{BufferID: "empty", Path: emptyPath, Segments: 0},
		{BufferID: "pipeline/a", Path: path, Segments: 2},
		{BufferID: "pipeline_a", Path: path2, Segments: 0},
	}, dirs)

	dirs, lerr = ListDataDirs(logger.Root(), fs, "/nowhere")
	assert.NoError(t, lerr)
	assert.Empty(t, dirs)
}
