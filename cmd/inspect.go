package cmd

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/fsys"
	"github.com/relex/slog-buffer/defs"
	"github.com/relex/slog-buffer/util"
)

type inspectCommandState struct {
	MaxSegmentSize string `help:"Max segment size of the buffer, to limit length of records while scanning"`
}

var inspectCmd = inspectCommandState{
	MaxSegmentSize: "128MB",
}

func (cmd *inspectCommandState) run(args []string) {
	if len(args) != 1 {
		logger.Fatal("expect exactly one argument: path of data dir")
	}
	var maxSegmentSize datasize.ByteSize
	if err := maxSegmentSize.UnmarshalText([]byte(cmd.MaxSegmentSize)); err != nil {
		logger.Fatalf("invalid max segment size '%s': %s", cmd.MaxSegmentSize, err.Error())
	}

	ilogger := logger.WithField(defs.LabelComponent, "Inspector")
	report, err := diskbuffer.Inspect(fsys.NewOSFilesystem(), args[0], int64(maxSegmentSize.Bytes()))
	if err != nil {
		ilogger.Fatal(err)
	}
	text, merr := util.MarshalYaml(report)
	if merr != nil {
		ilogger.Fatal(merr)
	}
	fmt.Print(text)
	if report.Problems > 0 {
		ilogger.Errorf("found %d problems", report.Problems)
		os.Exit(1)
	}
}
