package diskbuffer

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
)

func segmentFileName(segmentID uint64) string {
	return strconv.FormatUint(segmentID, 10) + defs.SegmentFileExt
}

func segmentPath(segmentsDir string, segmentID uint64) string {
	return filepath.Join(segmentsDir, segmentFileName(segmentID))
}

func parseSegmentFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, defs.SegmentFileExt) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, defs.SegmentFileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, segmentFileName(id) == name
}

// scanSegmentFile counts valid frames of a whole segment file and checks whether valid frames follow the first bad one
func scanSegmentFile(fs fsys.Filesystem, path string, maxPayload int) (segmentScan, error) {
	file, oerr := fs.OpenReadable(path)
	if oerr != nil {
		return segmentScan{resumableAt: -1}, oerr
	}
	defer file.Close()
	stat, serr := file.Stat()
	if serr != nil {
		return segmentScan{resumableAt: -1}, serr
	}
	result, err := scanFrames(file, stat.Size(), maxPayload, math.MaxUint64)
	if err != nil {
		return result, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	if result.stopStatus == frameInvalid && result.torn() {
		next, ferr := findNextValidFrame(file, result.validLength+1, result.fileLength, maxPayload)
		if ferr != nil {
			return result, fmt.Errorf("failed to scan %s: %w", path, ferr)
		}
		result.resumableAt = next
	}
	return result, nil
}
