package diskbuffer

import (
	"testing"

	"github.com/relex/slog-buffer/base"
	"github.com/stretchr/testify/assert"
)

func TestPayloadCodec(t *testing.T) {
	batch := base.NewRawEventBatch([]byte("first event"), []byte("second event"), []byte{})

	for _, compression := range []Compression{CompressionNone, CompressionS2} {
		t.Run(string(compression), func(t *testing.T) {
			pc := &payloadCodec[base.RawEventBatch]{codec: MsgpackCodec[base.RawEventBatch]{}, compression: compression}
			payload, err := pc.encode(batch, []byte("prefix"))
			assert.NoError(t, err)
			assert.Equal(t, "prefix", string(payload[:6]))

			decoder := &payloadCodec[base.RawEventBatch]{codec: MsgpackCodec[base.RawEventBatch]{}}
			decoded, derr := decoder.decode(payload[6:])
			assert.NoError(t, derr)
			assert.Len(t, decoded.Events, 3)
			assert.Equal(t, "first event", string(decoded.Events[0]))
			assert.Equal(t, "second event", string(decoded.Events[1]))
			assert.Equal(t, batch.SizeOf(), decoded.SizeOf())
		})
	}

	t.Run("unknown flag", func(t *testing.T) {
		pc := &payloadCodec[base.RawEventBatch]{codec: MsgpackCodec[base.RawEventBatch]{}}
		_, err := pc.decode([]byte{9, 1, 2})
		assert.Error(t, err)
		_, err = pc.decode(nil)
		assert.Error(t, err)
	})
}
