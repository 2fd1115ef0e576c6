package diskbuffer

import (
	"fmt"
	"path/filepath"

	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"golang.org/x/exp/slices"
)

// SegmentReport is the result of verifying one segment file
type SegmentReport struct {
	SegmentInfo `yaml:",inline"`
	Tracked     bool   `yaml:"tracked"`
	Exists      bool   `yaml:"exists"`
	FileLength  int64  `yaml:"fileLength"`
	ValidCount  uint64 `yaml:"validCount"`
	ValidLength int64  `yaml:"validLength"`
	Problem     string `yaml:"problem,omitempty"`
}

// InspectReport is the result of Inspect
type InspectReport struct {
	Ledger   LedgerState     `yaml:"ledger"`
	Segments []SegmentReport `yaml:"segments"`
	Problems int             `yaml:"problems"`
}

// Inspect reads the ledger and verifies all segment files in dataDir without modifying anything
//
// It must not be used on a data dir opened by a running buffer, as the ledger could be seen in the middle of update.
func Inspect(fs fsys.Filesystem, dataDir string, maxSegmentSize int64) (InspectReport, error) {
	report := InspectReport{}
	mmap, merr := fs.OpenMmapReadable(filepath.Join(dataDir, defs.LedgerFileName))
	if merr != nil {
		return report, fmt.Errorf("failed to open ledger: %w", merr)
	}
	state, _, perr := parseLedger(mmap.Bytes())
	mmap.Close()
	if perr != nil {
		return report, perr
	}
	report.Ledger = state

	segmentsDir := filepath.Join(dataDir, defs.SegmentsDirName)
	entries, rerr := fs.ReadDir(segmentsDir)
	if rerr != nil && !fsys.IsNotFound(rerr) {
		return report, rerr
	}
	onDisk := make(map[uint64]bool, len(entries))
	for _, entry := range entries {
		if id, ok := parseSegmentFileName(entry.Name()); ok && !entry.IsDir() {
			onDisk[id] = true
		}
	}

	maxPayload := int(maxSegmentSize) - frameOverhead
	for _, seg := range state.Segments {
		segReport := SegmentReport{SegmentInfo: seg, Tracked: true, Exists: onDisk[seg.ID]}
		delete(onDisk, seg.ID)
		verifySegment(fs, segmentsDir, maxPayload, &segReport)
		report.Segments = append(report.Segments, segReport)
	}
	orphans := make([]uint64, 0, len(onDisk))
	for id := range onDisk {
		orphans = append(orphans, id)
	}
	slices.Sort(orphans)
	for _, id := range orphans {
		segReport := SegmentReport{SegmentInfo: SegmentInfo{ID: id}, Exists: true}
		verifySegment(fs, segmentsDir, maxPayload, &segReport)
		if segReport.Problem == "" {
			segReport.Problem = "untracked"
		}
		report.Segments = append(report.Segments, segReport)
	}

	for _, segReport := range report.Segments {
		if segReport.Problem != "" {
			report.Problems++
		}
	}
	return report, nil
}

func verifySegment(fs fsys.Filesystem, segmentsDir string, maxPayload int, segReport *SegmentReport) {
	if !segReport.Exists {
		if segReport.Sealed || segReport.Count > 0 {
			segReport.Problem = "missing"
		}
		return
	}
	scan, err := scanSegmentFile(fs, segmentPath(segmentsDir, segReport.ID), maxPayload)
	segReport.FileLength = scan.fileLength
	segReport.ValidCount = scan.validCount
	segReport.ValidLength = scan.validLength
	switch {
	case err != nil:
		segReport.Problem = err.Error()
	case scan.corruptedInMiddle():
		segReport.Problem = fmt.Sprintf("%s frame at offset %d followed by valid frame at offset %d", scan.stopStatus,
			scan.validLength, scan.resumableAt)
	case !segReport.Tracked:
		return
	case segReport.Sealed && scan.validLength < segReport.Length:
		segReport.Problem = fmt.Sprintf("%s frame at offset %d before sealed length %d", scan.stopStatus, scan.validLength, segReport.Length)
	case segReport.Sealed && scan.validCount < segReport.Count:
		segReport.Problem = fmt.Sprintf("only %d of %d records", scan.validCount, segReport.Count)
	case !segReport.Sealed && scan.torn():
		segReport.Problem = fmt.Sprintf("torn tail after offset %d", scan.validLength)
	}
}
