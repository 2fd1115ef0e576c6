package cmd

import (
	"context"
	"os"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/run"
	"github.com/relex/slog-buffer/util"
)

type runCommandState struct {
	Config      string `help:"Configuration file path"`
	Buffer      string `help:"ID of the buffer to run, default to the first one in configuration"`
	BatchSize   int    `help:"Numbers of input lines per buffered item"`
	MetricsAddr string `help:"The listener address to expose Prometheus metrics and debug information"`
	TestMode    bool   `help:"Use test mode config: short flush interval and timeouts"`
}

var runCmd runCommandState = runCommandState{
	Config:      "config.yml",
	Buffer:      "",
	BatchSize:   1,
	MetricsAddr: ":9336",
	TestMode:    false,
}

func (cmd *runCommandState) run(args []string) {
	if cmd.TestMode {
		defs.EnableTestMode()
	}

	msrv := util.LaunchMetricsListener(cmd.MetricsAddr)

	run.Run(cmd.Config, cmd.Buffer, cmd.BatchSize, os.Stdin, os.Stdout)

	if err := msrv.Shutdown(context.Background()); err != nil {
		logger.Errorf("error shutting down metrics listener: %v", err)
	}
}
