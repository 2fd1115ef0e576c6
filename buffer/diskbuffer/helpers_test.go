package diskbuffer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/stretchr/testify/require"
)

const testDataDir = "/data/b1"

var testSegmentsDir = filepath.Join(testDataDir, defs.SegmentsDirName)

func TestMain(m *testing.M) {
	defs.EnableTestMode()
	os.Exit(m.Run())
}

// testRecord is stored as raw text, so that a frame is exactly len(Text) + 9 bytes
type testRecord struct {
	Text string
}

func (r testRecord) EventCount() int {
	return 1
}

func (r testRecord) SizeOf() int {
	return len(r.Text)
}

type testRecordCodec struct{}

func (testRecordCodec) Encode(item testRecord, dst []byte) ([]byte, error) {
	return append(dst, item.Text...), nil
}

func (testRecordCodec) Decode(src []byte) (testRecord, error) {
	return testRecord{Text: string(src)}, nil
}

// testRecordOf makes a record of 32 bytes as frame
func testRecordOf(i int) testRecord {
	return testRecord{Text: fmt.Sprintf("record-%016d", i)}
}

const testFrameSize = 32

func newTestConfig(maxSize datasize.ByteSize, maxSegmentSize datasize.ByteSize) *Config {
	cfg := &Config{
		MaxSize:        maxSize,
		MaxSegmentSize: maxSegmentSize,
		FlushInterval:  time.Hour,
	}
	if err := cfg.VerifyConfig(); err != nil {
		panic(err)
	}
	return cfg
}

func openTestBuffer(t *testing.T, fs fsys.Filesystem, cfg *Config) *Buffer[testRecord] {
	buf, err := Open[testRecord](logger.Root(), fs, testDataDir, cfg, testRecordCodec{}, newTestMetricCreator())
	require.NoError(t, err)
	return buf
}

func newTestMetricCreator() promreg.MetricCreator {
	return promreg.NewMetricFactory("testdisk_", nil, nil)
}

// abandonTestBuffer stops the buffer without writing anything more, to simulate a crash together with
// FaultFilesystem.Crash
func abandonTestBuffer[T base.Bufferable](buf *Buffer[T]) {
	buf.stopping.Signal()
	buf.stopped.Wait(defs.TestReadTimeout)
	buf.writer.closed.Store(true)
	buf.reader.Close()
}

func writeTestRecords(t *testing.T, buf *Buffer[testRecord], from int, to int) {
	for i := from; i < to; i++ {
		_, err := buf.Writer().WriteRecord(context.Background(), testRecordOf(i))
		require.NoError(t, err, i)
	}
}

// readTestRecords reads until caught up and returns the texts
func readTestRecords(t *testing.T, buf *Buffer[testRecord]) []string {
	var texts []string
	for {
		rec, ok, err := buf.Reader().ReadNext()
		require.NoError(t, err)
		if !ok {
			return texts
		}
		texts = append(texts, rec.Text)
	}
}

// readTestRecordsUntilError reads until caught up or the first error, which is sticky and returned again by ReadNext
func readTestRecordsUntilError(buf *Buffer[testRecord]) []string {
	var texts []string
	for {
		rec, ok, err := buf.Reader().ReadNext()
		if err != nil || !ok {
			return texts
		}
		texts = append(texts, rec.Text)
	}
}

func expectedTestTexts(from int, to int) []string {
	texts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		texts = append(texts, testRecordOf(i).Text)
	}
	return texts
}

func listTestSegments(t *testing.T, fs fsys.Filesystem) []string {
	entries, err := fs.ReadDir(testSegmentsDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}
