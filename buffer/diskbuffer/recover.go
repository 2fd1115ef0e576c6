package diskbuffer

import (
	"fmt"
	"sort"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/samber/lo"
)

type recoveredSegment struct {
	SegmentInfo
	adopted       bool
	originalStart base.RecordID
}

// recoveryResult is the state of the writer's segment after recovery
type recoveryResult struct {
	activeExists bool
	activeLength int64
}

// recoverLedger reconciles the ledger against segment files on disk and persists the repaired ledger
//
// Files on disk win over the ledger: unknown segment files are adopted as sealed segments, tracked segments without
// files are dropped, and the writer's segment is scanned to find the real end of committed records. If the writer's
// segment ends with a partial record, it's sealed before the partial record and a new segment is started, so that
// data is never modified by recovery.
//
// Record IDs are re-chained to be contiguous across segments, with the acknowledged position kept on the same record.
func recoverLedger(parentLogger logger.Logger, fs fsys.Filesystem, segmentsDir string, ledger *Ledger,
	maxPayload int,
) (recoveryResult, error) {
	rlogger := parentLogger.WithField(defs.LabelPart, "recovery")
	state := ledger.State()

	sizeOnDisk, lerr := listSegmentFiles(rlogger, fs, segmentsDir)
	if lerr != nil {
		return recoveryResult{}, lerr
	}

	segments := make([]recoveredSegment, 0, len(state.Segments)+len(sizeOnDisk))
	for _, seg := range state.Segments {
		if _, exists := sizeOnDisk[seg.ID]; !exists {
			if !seg.Sealed && seg.Count == 0 {
				// not created yet before the last shutdown
				continue
			}
			if seg.End() > state.AckedReadID {
				rlogger.Errorf("untrack missing segment=%d with %d unacknowledged records", seg.ID,
					seg.End()-lo.Max([]base.RecordID{seg.Start, state.AckedReadID}))
			} else {
				rlogger.Warnf("untrack missing segment=%d", seg.ID)
			}
			continue
		}
		segments = append(segments, recoveredSegment{SegmentInfo: seg, originalStart: seg.Start})
	}

	trackedIDs := lo.Associate(state.Segments, func(seg SegmentInfo) (uint64, bool) { return seg.ID, true })
	for _, id := range lo.Keys(sizeOnDisk) {
		if trackedIDs[id] {
			continue
		}
		scan, err := scanRecoveredSegment(rlogger, fs, segmentsDir, id, 0, maxPayload)
		if err != nil {
			return recoveryResult{}, err
		}
		rlogger.Warnf("adopt unknown segment=%d records=%d length=%d", id, scan.validCount, scan.validLength)
		segments = append(segments, recoveredSegment{
			SegmentInfo: SegmentInfo{ID: id, Count: scan.validCount, Length: scan.validLength, Sealed: true},
			adopted:     true,
		})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].ID < segments[j].ID })

	// only the last segment can be open for writing
	for i := 0; i < len(segments)-1; i++ {
		seg := &segments[i]
		if seg.Sealed {
			continue
		}
		scan, err := scanRecoveredSegment(rlogger, fs, segmentsDir, seg.ID, seg.Start, maxPayload)
		if err != nil {
			return recoveryResult{}, err
		}
		rlogger.Warnf("seal segment=%d followed by newer segments, records=%d length=%d", seg.ID, scan.validCount, scan.validLength)
		seg.Count = scan.validCount
		seg.Length = scan.validLength
		seg.Sealed = true
	}

	// the writer's segment must be the last one and unsealed, or a new one is needed
	result := recoveryResult{}
	if n := len(segments); n > 0 && !segments[n-1].Sealed {
		active := &segments[n-1]
		scan, err := scanRecoveredSegment(rlogger, fs, segmentsDir, active.ID, active.Start, maxPayload)
		if err != nil {
			return recoveryResult{}, err
		}
		if scan.validCount != active.Count {
			rlogger.Infof("found %d committed records in segment=%d, ledger had %d", scan.validCount, active.ID, active.Count)
		}
		active.Count = scan.validCount
		if scan.torn() {
			rlogger.Infof("discard partial write at tail of segment=%d offset=%d length=%d (%s)",
				active.ID, scan.validLength, scan.fileLength-scan.validLength, scan.stopStatus)
			active.Sealed = true
			active.Length = scan.validLength
		} else {
			result.activeExists = true
			result.activeLength = scan.validLength
		}
	}
	for _, seg := range segments {
		if seg.Sealed && sizeOnDisk[seg.ID] < seg.Length {
			rlogger.Errorf("segment=%d is shorter than its sealed length %d: %d", seg.ID, seg.Length, sizeOnDisk[seg.ID])
		}
	}

	// re-chain IDs from the first segment
	start := chainBase(state, segments)
	for i := range segments {
		segments[i].Start = start
		start += segments[i].Count
	}
	newState := LedgerState{
		NextWriteID: start,
		AckedReadID: mapAckedID(state.AckedReadID, segments, start),
	}
	if newState.NextWriteID != state.NextWriteID {
		rlogger.Infof("repair nextWriteID from %d to %d", state.NextWriteID, newState.NextWriteID)
	}
	if newState.AckedReadID != state.AckedReadID {
		rlogger.Infof("repair ackedReadID from %d to %d", state.AckedReadID, newState.AckedReadID)
	}
	newState.NextReadID = newState.AckedReadID // unacknowledged records are delivered again

	newState.Segments = lo.Map(segments, func(seg recoveredSegment, _ int) SegmentInfo { return seg.SegmentInfo })
	if result.activeExists {
		newState.WriterSegmentID = segments[len(segments)-1].ID
	} else {
		newID := state.WriterSegmentID
		if len(segments) > 0 {
			newID = segments[len(segments)-1].ID + 1
		}
		newState.Segments = append(newState.Segments, SegmentInfo{ID: newID, Start: newState.NextWriteID})
		newState.WriterSegmentID = newID
	}

	ledger.replaceState(newState)
	if err := ledger.Persist(); err != nil {
		return recoveryResult{}, fmt.Errorf("failed to persist recovered ledger: %w", err)
	}
	return result, nil
}

// scanRecoveredSegment scans a segment file which is going to be sealed or appended to
func scanRecoveredSegment(rlogger logger.Logger, fs fsys.Filesystem, segmentsDir string, segmentID uint64,
	start base.RecordID, maxPayload int,
) (segmentScan, error) {
	scan, err := scanSegmentFile(fs, segmentPath(segmentsDir, segmentID), maxPayload)
	if err != nil {
		return scan, err
	}
	if scan.corruptedInMiddle() {
		cerr := &CorruptionError{SegmentID: segmentID, Offset: scan.validLength, RecordID: start + scan.validCount,
			Reason: fmt.Sprintf("%s frame followed by valid records at offset %d", scan.stopStatus, scan.resumableAt)}
		rlogger.Error(cerr.Error())
		return scan, cerr
	}
	return scan, nil
}

func listSegmentFiles(rlogger logger.Logger, fs fsys.Filesystem, segmentsDir string) (map[uint64]int64, error) {
	entries, err := fs.ReadDir(segmentsDir)
	if err != nil && !fsys.IsNotFound(err) {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	sizeOnDisk := make(map[uint64]int64, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := parseSegmentFileName(entry.Name())
		if !ok {
			rlogger.Warnf("ignore unknown file in segments dir: %s", entry.Name())
			continue
		}
		sizeOnDisk[id] = entry.Size()
	}
	return sizeOnDisk, nil
}

// chainBase determines the ID of the first record in the first segment
func chainBase(state LedgerState, segments []recoveredSegment) base.RecordID {
	var adoptedCount uint64
	for _, seg := range segments {
		if !seg.adopted {
			if seg.originalStart < adoptedCount {
				return 0
			}
			return seg.originalStart - adoptedCount
		}
		adoptedCount += seg.Count
	}
	if len(segments) == 0 {
		return state.NextWriteID
	}
	return state.AckedReadID
}

// mapAckedID finds the new ID of the first unacknowledged record
func mapAckedID(acked base.RecordID, segments []recoveredSegment, end base.RecordID) base.RecordID {
	for _, seg := range segments {
		switch {
		case seg.adopted:
			return seg.Start
		case seg.originalStart > acked:
			return seg.Start
		case acked < seg.originalStart+seg.Count:
			return seg.Start + (acked - seg.originalStart)
		}
	}
	return end
}
