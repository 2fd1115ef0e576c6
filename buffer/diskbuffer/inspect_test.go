package diskbuffer

import (
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	ffs := fsys.NewFaultFilesystem(fsys.NewMemoryFilesystem())
	buf := openTestBuffer(t, ffs, newTestConfig(256*datasize.KB, 1024))
	writeTestRecords(t, buf, 0, 40)
	assert.NoError(t, buf.Close())

	report, err := Inspect(ffs, testDataDir, 1024)
	require.NoError(t, err)
	assert.EqualValues(t, 40, report.Ledger.NextWriteID)
	assert.Zero(t, report.Problems)
	if assert.Len(t, report.Segments, 2) {
		assert.EqualValues(t, 32, report.Segments[0].ValidCount)
		assert.True(t, report.Segments[0].Sealed)
		assert.EqualValues(t, 8, report.Segments[1].ValidCount)
		assert.EqualValues(t, 8*testFrameSize, report.Segments[1].FileLength)
	}

	require.NoError(t, ffs.CorruptBytes(filepath.Join(testSegmentsDir, "0.dat"), 100, 1))
	require.NoError(t, fsys.WriteFile(ffs, filepath.Join(testSegmentsDir, "9.dat"), nil))
	report, err = Inspect(ffs, testDataDir, 1024)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Problems)
	if assert.Len(t, report.Segments, 3) {
		assert.EqualValues(t, 3, report.Segments[0].ValidCount)
		assert.Contains(t, report.Segments[0].Problem, "invalid frame at offset 96")
		assert.Empty(t, report.Segments[1].Problem)
		assert.EqualValues(t, 9, report.Segments[2].ID)
		assert.Equal(t, "untracked", report.Segments[2].Problem)
	}
}
