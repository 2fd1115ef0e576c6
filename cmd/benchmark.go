package cmd

import (
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/test"
)

type benchmarkCommandState struct {
	Config    string `help:"Configuration file path"`
	Buffer    string `help:"ID of the buffer to benchmark, default to the first one in configuration"`
	RootPath  string `help:"Override root path of disk stages; a temporary dir is used and removed after if it's 'tmp'"`
	Events    int    `help:"Numbers of events to send"`
	Size      int    `help:"Size of each event in bytes"`
	BatchSize int    `help:"Numbers of events per buffered item"`
	Producers int    `help:"Numbers of concurrent producers"`
}

var benchCmd = benchmarkCommandState{
	Config:    "testdata/config_sample.yml",
	Buffer:    "",
	RootPath:  "tmp",
	Events:    1000000,
	Size:      200,
	BatchSize: 100,
	Producers: 4,
}

func (cmd *benchmarkCommandState) run(_ []string) {
	defs.EnableTestMode()
	params := test.BenchmarkParams{
		ConfigFile: cmd.Config,
		BufferID:   cmd.Buffer,
		RootPath:   cmd.RootPath,
		NumEvents:  cmd.Events,
		EventSize:  cmd.Size,
		BatchSize:  cmd.BatchSize,
		Producers:  cmd.Producers,
	}
	if err := test.RunBenchmarkBuffer(params); err != nil {
		logger.Fatal(err)
	}
}
