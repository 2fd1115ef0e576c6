// Package cmd provides list of commands including self-benchmarks and tools
package cmd

import (
	"github.com/relex/gotils/config"
)

func init() {
	config.AddParentCmdWithArgs("", "slog-buffer buffers events in memory and on disk between producers and consumers", &rootCmd, rootCmd.preRun, rootCmd.postRun)
	config.AddCmdWithArgs("benchmark ...", "Benchmark a configured buffer with generated events", &benchCmd, benchCmd.run)
	config.AddCmdWithArgs("inspect <dataDir> ...", "Verify ledger and segment files of a disk buffer", &inspectCmd, inspectCmd.run)
	config.AddCmdWithArgs("list ...", "List data dirs of disk buffers", &listCmd, listCmd.run)
	config.AddCmdWithArgs("run ...", "Relay lines from stdin to stdout through a configured buffer", &runCmd, runCmd.run)
}

// Execute parses the command line and runs the specified command
func Execute() {
	// trigger init

	config.Execute()
}
