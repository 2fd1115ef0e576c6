package run

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diskOnlyConf = `
rootPath: /data
buffers:
  - id: disk-only
    stages:
      - type: disk
        maxSize: 64KB
        maxSegmentSize: 1KB
`

func makeRelayInput(from int, to int) string {
	sb := &strings.Builder{}
	for i := from; i < to; i++ {
		fmt.Fprintf(sb, "line %d: %s\n", i, strings.Repeat("x", i))
	}
	return sb.String()
}

func TestRelay(t *testing.T) {
	config, err := ParseConfigString(sampleConf)
	require.NoError(t, err)
	loader := NewLoader(config, fsys.NewMemoryFilesystem(), "testrelay_")
	topo, terr := loader.LaunchBuffer(logger.Root(), "sink-a")
	require.NoError(t, terr)

	ctx, cancel := context.WithTimeout(context.Background(), defs.TestReadTimeout)
	defer cancel()

	linesBefore := util.SumMetricValues(relayLinesTotal)
	input := makeRelayInput(0, 20)
	relay := NewRelay(logger.Root(), topo.Sender(), topo.Receiver(), 3)
	numIn, inErr := relay.RunInput(ctx, strings.NewReader(input))
	assert.NoError(t, inErr)
	assert.Equal(t, 20, numIn)
	assert.NoError(t, topo.CloseSender())

	output := &bytes.Buffer{}
	numOut, outErr := relay.RunOutput(ctx, output)
	assert.NoError(t, outErr)
	assert.Equal(t, 20, numOut)
	assert.Equal(t, input, output.String())
	assert.Equal(t, 40.0, util.SumMetricValues(relayLinesTotal)-linesBefore)
	assert.NoError(t, topo.Close())
}

func TestRelayLineTooLong(t *testing.T) {
	config, err := ParseConfigString(sampleConf)
	require.NoError(t, err)
	loader := NewLoader(config, fsys.NewMemoryFilesystem(), "testrelay_")
	topo, terr := loader.LaunchBuffer(logger.Root(), "sink-b")
	require.NoError(t, terr)
	defer topo.Close()

	input := "short\n" + strings.Repeat("y", defs.RelayMaxLineLength+1) + "\n"
	relay := NewRelay(logger.Root(), topo.Sender(), topo.Receiver(), 1)
	numIn, inErr := relay.RunInput(context.Background(), strings.NewReader(input))
	assert.ErrorContains(t, inErr, "failed to read input")
	assert.Equal(t, 1, numIn)
}

func TestRelayRedeliveryAfterRestart(t *testing.T) {
	config, err := ParseConfigString(diskOnlyConf)
	require.NoError(t, err)
	fs := fsys.NewMemoryFilesystem()

	relayOnce := func(input string, closeSender bool) (int, string) {
		loader := NewLoader(config, fs, "testredelivery_")
		topo, terr := loader.LaunchBuffer(logger.Root(), "")
		require.NoError(t, terr)
		defer func() { assert.NoError(t, topo.Close()) }()

		ctx, cancel := context.WithTimeout(context.Background(), defs.TestReadTimeout)
		defer cancel()
		relay := NewRelay(logger.Root(), topo.Sender(), topo.Receiver(), 1)
		_, inErr := relay.RunInput(ctx, strings.NewReader(input))
		assert.NoError(t, inErr)
		if !closeSender {
			return 0, ""
		}
		assert.NoError(t, topo.CloseSender())
		output := &bytes.Buffer{}
		numOut, outErr := relay.RunOutput(ctx, output)
		assert.NoError(t, outErr)
		return numOut, output.String()
	}

	relayOnce(makeRelayInput(0, 30), false)

	numOut, output := relayOnce(makeRelayInput(30, 35), true)
	assert.Equal(t, 35, numOut)
	assert.Equal(t, makeRelayInput(0, 35), output)

	numOut, output = relayOnce("", true)
	assert.Equal(t, 0, numOut, "acknowledged lines are not delivered again")
	assert.Empty(t, output)
}
