package diskbuffer

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/relex/slog-buffer/base"
	"github.com/vmihailenco/msgpack/v4"
)

// MsgpackCodec encodes payloads in msgpack by their struct tags
type MsgpackCodec[T base.Bufferable] struct{}

// Encode appends the msgpack of item to dst
func (MsgpackCodec[T]) Encode(item T, dst []byte) ([]byte, error) {
	writer := bytes.NewBuffer(dst)
	if err := msgpack.NewEncoder(writer).Encode(item); err != nil {
		return dst, err
	}
	return writer.Bytes(), nil
}

// Decode decodes one item from msgpack
func (MsgpackCodec[T]) Decode(src []byte) (T, error) {
	var item T
	err := msgpack.Unmarshal(src, &item)
	return item, err
}

// Record payload: [u8 flag][codec output, compressed if flagged]
const (
	payloadFlagRaw byte = 0
	payloadFlagS2  byte = 1
)

// payloadCodec wraps a Codec with the payload flag and optional compression; it's not safe for concurrent use
type payloadCodec[T base.Bufferable] struct {
	codec       base.Codec[T]
	compression Compression
	scratch     []byte
}

// encode appends the payload of item to dst
func (pc *payloadCodec[T]) encode(item T, dst []byte) ([]byte, error) {
	if pc.compression != CompressionS2 {
		return pc.codec.Encode(item, append(dst, payloadFlagRaw))
	}
	encoded, err := pc.codec.Encode(item, pc.scratch[:0])
	if err != nil {
		return dst, err
	}
	pc.scratch = encoded
	dst = append(dst, payloadFlagS2)
	return append(dst, s2.Encode(nil, encoded)...), nil
}

func (pc *payloadCodec[T]) decode(payload []byte) (T, error) {
	var empty T
	if len(payload) == 0 {
		return empty, fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case payloadFlagRaw:
		return pc.codec.Decode(payload[1:])
	case payloadFlagS2:
		decoded, err := s2.Decode(pc.scratch[:cap(pc.scratch)], payload[1:])
		if err != nil {
			return empty, fmt.Errorf("failed to decompress: %w", err)
		}
		pc.scratch = decoded
		return pc.codec.Decode(decoded)
	default:
		return empty, fmt.Errorf("unknown payload flag %d", payload[0])
	}
}
