package diskbuffer

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Record frame: [u32 payload length][payload][u32 CRC32-C of payload], little-endian, no padding
//
// Record IDs aren't stored; they're derived from the starting record ID of segment and the ordinal of frame.
const (
	frameHeaderSize  = 4
	frameTrailerSize = 4
	frameOverhead    = frameHeaderSize + frameTrailerSize
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

type frameStatus int

const (
	frameValid      frameStatus = iota
	frameIncomplete             // EOF before the end of frame
	frameInvalid                // bad length or checksum mismatch
)

func (s frameStatus) String() string {
	switch s {
	case frameValid:
		return "valid"
	case frameIncomplete:
		return "incomplete"
	default:
		return "invalid"
	}
}

// sealFrame fills in the header and appends the trailer to a frame made of 4 reserved header bytes and the payload
func sealFrame(frame []byte) []byte {
	payload := frame[frameHeaderSize:]
	binary.LittleEndian.PutUint32(frame[:frameHeaderSize], uint32(len(payload)))
	return binary.LittleEndian.AppendUint32(frame, crc32.Checksum(payload, crcTable))
}

// frameReader reads frames at arbitrary offsets of a segment file, reusing its buffer
type frameReader struct {
	maxPayload int
	buf        []byte
}

// readFrame reads the frame at offset. The returned payload is only valid until the next call.
//
// I/O errors other than EOF are returned as-is with frameInvalid
func (fr *frameReader) readFrame(src io.ReaderAt, offset int64) ([]byte, int64, frameStatus, error) {
	var header [frameHeaderSize]byte
	if n, err := src.ReadAt(header[:], offset); n < frameHeaderSize {
		if err == nil || err == io.EOF {
			return nil, 0, frameIncomplete, nil
		}
		return nil, 0, frameInvalid, err
	}
	length := int(binary.LittleEndian.Uint32(header[:]))
	if length == 0 || length > fr.maxPayload {
		return nil, 0, frameInvalid, nil
	}

	total := length + frameTrailerSize
	if cap(fr.buf) < total {
		fr.buf = make([]byte, total)
	}
	body := fr.buf[:total]
	if n, err := src.ReadAt(body, offset+frameHeaderSize); n < total {
		if err == nil || err == io.EOF {
			return nil, 0, frameIncomplete, nil
		}
		return nil, 0, frameInvalid, err
	}
	payload := body[:length]
	if binary.LittleEndian.Uint32(body[length:]) != crc32.Checksum(payload, crcTable) {
		return nil, 0, frameInvalid, nil
	}
	return payload, int64(frameHeaderSize + total), frameValid, nil
}

// segmentScan is the result of scanning frames in a segment
type segmentScan struct {
	validCount  uint64 // numbers of valid frames from the start
	validLength int64  // bytes of valid frames from the start
	fileLength  int64
	stopStatus  frameStatus // status of the frame after the last valid one
	resumableAt int64       // offset of a valid frame after the bad one, or -1
}

// torn checks whether there are leftover bytes after the last valid frame
func (s segmentScan) torn() bool {
	return s.fileLength > s.validLength
}

// corruptedInMiddle checks whether valid frames follow the first bad frame, which a crash during append can't produce
func (s segmentScan) corruptedInMiddle() bool {
	return s.resumableAt >= 0
}

// scanFrames walks frames from the start until the first non-valid one or until maxCount frames are passed
func scanFrames(src io.ReaderAt, fileLength int64, maxPayload int, maxCount uint64) (segmentScan, error) {
	fr := &frameReader{maxPayload: maxPayload}
	result := segmentScan{fileLength: fileLength, stopStatus: frameIncomplete, resumableAt: -1}
	for result.validCount < maxCount {
		_, size, status, err := fr.readFrame(src, result.validLength)
		if err != nil {
			return result, err
		}
		if status != frameValid {
			result.stopStatus = status
			break
		}
		result.validCount++
		result.validLength += size
	}
	return result, nil
}

// findNextValidFrame searches byte by byte after a bad frame for the first offset where a complete valid frame starts
//
// Only frames which fit in the file are checked, so that garbage lengths are rejected without reading.
func findNextValidFrame(src io.ReaderAt, from int64, fileLength int64, maxPayload int) (int64, error) {
	fr := &frameReader{maxPayload: maxPayload}
	var header [frameHeaderSize]byte
	for offset := from; offset+frameOverhead < fileLength; offset++ {
		if _, err := src.ReadAt(header[:], offset); err != nil {
			if err == io.EOF {
				break
			}
			return -1, err
		}
		length := int64(binary.LittleEndian.Uint32(header[:]))
		if length == 0 || offset+frameOverhead+length > fileLength {
			continue
		}
		_, _, status, err := fr.readFrame(src, offset)
		if err != nil {
			return -1, err
		}
		if status == frameValid {
			return offset, nil
		}
	}
	return -1, nil
}
