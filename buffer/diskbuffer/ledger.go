package diskbuffer

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/base"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
	"github.com/vmihailenco/msgpack/v4"
)

// Ledger file: two fixed-size slots, each [u32 state length][u32 CRC32-C of state][msgpack state], little-endian.
//
// Persist writes the slot not holding the current state, so a torn write only damages the state being written and
// the previous one stays loadable. The valid slot with the highest generation wins at load.
const ledgerSlotHeaderSize = 8

// SegmentInfo describes a segment tracked by ledger
type SegmentInfo struct {
	ID     uint64        `msgpack:"id" yaml:"id"`
	Start  base.RecordID `msgpack:"start" yaml:"start"`   // ID of the first record
	Count  uint64        `msgpack:"count" yaml:"count"`   // numbers of committed records
	Length int64         `msgpack:"length" yaml:"length"` // valid length in bytes; only maintained after sealed
	Sealed bool          `msgpack:"sealed" yaml:"sealed"`
}

// End returns the ID after the last record
func (seg SegmentInfo) End() base.RecordID {
	return seg.Start + seg.Count
}

// LedgerState is the durable state of a disk buffer
type LedgerState struct {
	Generation      uint64        `msgpack:"gen" yaml:"gen"`
	NextWriteID     base.RecordID `msgpack:"nextWriteID" yaml:"nextWriteID"`         // ID to assign to the next record written
	NextReadID      base.RecordID `msgpack:"nextReadID" yaml:"nextReadID"`           // first record not yet delivered by reader
	AckedReadID     base.RecordID `msgpack:"ackedReadID" yaml:"ackedReadID"`         // first record not yet acknowledged downstream
	WriterSegmentID uint64        `msgpack:"writerSegmentID" yaml:"writerSegmentID"` // segment being appended to by writer
	Segments        []SegmentInfo `msgpack:"segments" yaml:"segments"`               // tracked segments sorted by ID
}

func (state *LedgerState) clone() LedgerState {
	copied := *state
	copied.Segments = append([]SegmentInfo(nil), state.Segments...)
	return copied
}

func (state *LedgerState) indexOf(segmentID uint64) int {
	i := sort.Search(len(state.Segments), func(i int) bool { return state.Segments[i].ID >= segmentID })
	if i < len(state.Segments) && state.Segments[i].ID == segmentID {
		return i
	}
	return -1
}

// MaxTrackedSegments returns how many segments a ledger slot can track, with every number at its largest encoding
func MaxTrackedSegments() int {
	worst := SegmentInfo{ID: math.MaxUint64, Start: math.MaxUint64, Count: math.MaxUint64, Length: math.MaxInt64, Sealed: true}
	state := LedgerState{
		Generation:      math.MaxUint64,
		NextWriteID:     math.MaxUint64,
		NextReadID:      math.MaxUint64,
		AckedReadID:     math.MaxUint64,
		WriterSegmentID: math.MaxUint64,
		Segments:        []SegmentInfo{worst},
	}
	withOne, err := msgpack.Marshal(&state)
	if err != nil {
		logger.Panicf("failed to encode ledger state: %s", err.Error())
	}
	state.Segments = append(state.Segments, worst)
	withTwo, err := msgpack.Marshal(&state)
	if err != nil {
		logger.Panicf("failed to encode ledger state: %s", err.Error())
	}
	perSegment := len(withTwo) - len(withOne)
	fixed := len(withOne) - perSegment + 4 // array32 header takes 4 more bytes than fixarray
	return (defs.DiskBufferLedgerSlotBytes - ledgerSlotHeaderSize - fixed) / perSegment
}

// Ledger keeps the in-memory mirror of LedgerState and persists it on demand
//
// All methods are safe for concurrent use by the writer and the reader
type Ledger struct {
	logger logger.Logger
	path   string
	mmap   fsys.MmapFile
	mutex  sync.Mutex
	state  LedgerState
	slot   int // slot holding the last persisted state
	dirty  bool
}

// LoadLedger opens or creates the ledger file in the given data dir
//
// A missing or blank ledger file results in a fresh state with every ID at zero
func LoadLedger(parentLogger logger.Logger, fs fsys.Filesystem, dataDir string) (*Ledger, error) {
	path := filepath.Join(dataDir, defs.LedgerFileName)
	llogger := parentLogger.WithField(defs.LabelPart, "ledger")

	mmap, merr := fs.OpenMmapWritable(path, 2*defs.DiskBufferLedgerSlotBytes)
	if merr != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", merr)
	}

	state, slot, perr := parseLedger(mmap.Bytes())
	if perr != nil {
		mmap.Close()
		return nil, fmt.Errorf("%s: %w", path, perr)
	}
	if state.Generation == 0 {
		llogger.Infof("initialize new ledger path=%s", path)
	} else {
		llogger.Infof("loaded ledger gen=%d nextWriteID=%d ackedReadID=%d segments=%d",
			state.Generation, state.NextWriteID, state.AckedReadID, len(state.Segments))
	}
	return &Ledger{
		logger: llogger,
		path:   path,
		mmap:   mmap,
		state:  state,
		slot:   slot,
		dirty:  state.Generation == 0,
	}, nil
}

// parseLedger picks the valid slot with the highest generation. Both slots blank means a new ledger.
func parseLedger(data []byte) (LedgerState, int, error) {
	var best LedgerState
	bestSlot := 1 // so that the first persist goes to slot 0
	found := false
	blank := true
	for slot := 0; slot < 2; slot++ {
		state, status := parseLedgerSlot(data, slot)
		switch status {
		case slotBlank:
			continue
		case slotValid:
			if !found || state.Generation > best.Generation {
				best = state
				bestSlot = slot
				found = true
			}
		}
		blank = false
	}
	if !found && !blank {
		return LedgerState{}, 0, ErrLedgerCorrupted
	}
	return best, bestSlot, nil
}

type slotStatus int

const (
	slotBlank slotStatus = iota
	slotValid
	slotInvalid
)

func parseLedgerSlot(data []byte, slot int) (LedgerState, slotStatus) {
	slotSize := defs.DiskBufferLedgerSlotBytes
	if len(data) < (slot+1)*slotSize {
		return LedgerState{}, slotBlank
	}
	region := data[slot*slotSize : (slot+1)*slotSize]
	length := int(binary.LittleEndian.Uint32(region[0:4]))
	checksum := binary.LittleEndian.Uint32(region[4:8])
	if length == 0 && checksum == 0 {
		return LedgerState{}, slotBlank
	}
	if length > slotSize-ledgerSlotHeaderSize {
		return LedgerState{}, slotInvalid
	}
	encoded := region[ledgerSlotHeaderSize : ledgerSlotHeaderSize+length]
	if crc32.Checksum(encoded, crcTable) != checksum {
		return LedgerState{}, slotInvalid
	}
	var state LedgerState
	if err := msgpack.Unmarshal(encoded, &state); err != nil {
		return LedgerState{}, slotInvalid
	}
	return state, slotValid
}

// State returns a copy of the current state
func (ledger *Ledger) State() LedgerState {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	return ledger.state.clone()
}

// NextWriteID returns the ID to be assigned to the next record. All records before are committed.
func (ledger *Ledger) NextWriteID() base.RecordID {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	return ledger.state.NextWriteID
}

// AckedReadID returns the ID of the first record not yet acknowledged
func (ledger *Ledger) AckedReadID() base.RecordID {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	return ledger.state.AckedReadID
}

// AdvanceWrite moves the write position and the writer's segment, updating the record count of the segment
func (ledger *Ledger) AdvanceWrite(nextID base.RecordID, segmentID uint64) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	if nextID < ledger.state.NextWriteID {
		ledger.logger.Errorf("BUG: write position moving back from %d to %d. stack=%s", ledger.state.NextWriteID, nextID, util.Stack())
	}
	ledger.state.NextWriteID = nextID
	ledger.state.WriterSegmentID = segmentID
	if i := ledger.state.indexOf(segmentID); i >= 0 && !ledger.state.Segments[i].Sealed {
		ledger.state.Segments[i].Count = nextID - ledger.state.Segments[i].Start
	}
	ledger.dirty = true
}

// AdvanceRead moves the read position
func (ledger *Ledger) AdvanceRead(nextID base.RecordID) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	ledger.state.NextReadID = nextID
	ledger.dirty = true
}

// AdvanceAcked moves the acknowledged position, which is where reading resumes after restart
func (ledger *Ledger) AdvanceAcked(nextID base.RecordID) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	if nextID <= ledger.state.AckedReadID {
		return
	}
	ledger.state.AckedReadID = nextID
	ledger.dirty = true
}

// TrackSegment adds a new segment
func (ledger *Ledger) TrackSegment(seg SegmentInfo) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	if ledger.state.indexOf(seg.ID) >= 0 {
		ledger.logger.Errorf("BUG: segment=%d already tracked. stack=%s", seg.ID, util.Stack())
		return
	}
	ledger.state.Segments = append(ledger.state.Segments, seg)
	sort.Slice(ledger.state.Segments, func(i, j int) bool { return ledger.state.Segments[i].ID < ledger.state.Segments[j].ID })
	ledger.dirty = true
}

// UntrackSegment removes a segment, normally after its file is deleted
func (ledger *Ledger) UntrackSegment(segmentID uint64) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	i := ledger.state.indexOf(segmentID)
	if i < 0 {
		return
	}
	ledger.state.Segments = append(ledger.state.Segments[:i], ledger.state.Segments[i+1:]...)
	ledger.dirty = true
}

// SealSegment marks a segment as sealed with its final valid length; no more records can be added
func (ledger *Ledger) SealSegment(segmentID uint64, length int64) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	i := ledger.state.indexOf(segmentID)
	if i < 0 {
		ledger.logger.Errorf("BUG: sealing untracked segment=%d. stack=%s", segmentID, util.Stack())
		return
	}
	ledger.state.Segments[i].Sealed = true
	ledger.state.Segments[i].Length = length
	ledger.dirty = true
}

// Segment returns the tracked segment of the given ID
func (ledger *Ledger) Segment(segmentID uint64) (SegmentInfo, bool) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	i := ledger.state.indexOf(segmentID)
	if i < 0 {
		return SegmentInfo{}, false
	}
	return ledger.state.Segments[i], true
}

// SegmentContaining finds the segment holding the given committed record
func (ledger *Ledger) SegmentContaining(id base.RecordID) (SegmentInfo, bool) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	for _, seg := range ledger.state.Segments {
		if seg.Start <= id && id < seg.End() {
			return seg, true
		}
	}
	return SegmentInfo{}, false
}

// Segments returns a copy of all tracked segments
func (ledger *Ledger) Segments() []SegmentInfo {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	return append([]SegmentInfo(nil), ledger.state.Segments...)
}

// Persist writes the current state to the alternate slot and flushes it to disk, if anything has changed
func (ledger *Ledger) Persist() error {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	if !ledger.dirty {
		return nil
	}
	if ledger.mmap == nil {
		return ErrClosed
	}

	ledger.state.Generation++
	encoded, eerr := msgpack.Marshal(&ledger.state)
	if eerr != nil {
		ledger.state.Generation--
		return fmt.Errorf("failed to encode ledger: %w", eerr)
	}
	slotSize := defs.DiskBufferLedgerSlotBytes
	if len(encoded) > slotSize-ledgerSlotHeaderSize {
		ledger.state.Generation--
		return fmt.Errorf("ledger state too large: %d bytes with %d segments", len(encoded), len(ledger.state.Segments))
	}

	nextSlot := 1 - ledger.slot
	region := ledger.mmap.Bytes()[nextSlot*slotSize : (nextSlot+1)*slotSize]
	binary.LittleEndian.PutUint32(region[0:4], uint32(len(encoded)))
	binary.LittleEndian.PutUint32(region[4:8], crc32.Checksum(encoded, crcTable))
	copy(region[ledgerSlotHeaderSize:], encoded)
	if err := ledger.mmap.Flush(); err != nil {
		return fmt.Errorf("failed to flush ledger: %w", err)
	}
	ledger.slot = nextSlot
	ledger.dirty = false
	return nil
}

// Close persists pending changes and unmaps the ledger
func (ledger *Ledger) Close() error {
	perr := ledger.Persist()
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	if ledger.mmap == nil {
		return perr
	}
	cerr := ledger.mmap.Close()
	ledger.mmap = nil
	if perr != nil {
		return perr
	}
	return cerr
}

// replaceState is used by recovery only
func (ledger *Ledger) replaceState(state LedgerState) {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	state.Generation = ledger.state.Generation
	ledger.state = state
	ledger.dirty = true
}
