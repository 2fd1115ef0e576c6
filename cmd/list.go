package cmd

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/buffer/diskbuffer"
	"github.com/relex/slog-buffer/buffer/fsys"
)

type listCommandState struct {
	Root  string `help:"Root path of data dirs"`
	Match string `help:"Glob pattern of buffer IDs to list"`
}

var listCmd = listCommandState{
	Root:  "/var/lib/slog-buffer",
	Match: "*",
}

func (cmd *listCommandState) run(_ []string) {
	matcher, gerr := glob.Compile(cmd.Match)
	if gerr != nil {
		logger.Fatalf("invalid pattern '%s': %s", cmd.Match, gerr.Error())
	}
	dirs, err := diskbuffer.ListDataDirs(logger.Root(), fsys.NewOSFilesystem(), cmd.Root)
	if err != nil {
		logger.Fatal(err)
	}
	for _, dir := range dirs {
		if !matcher.Match(dir.BufferID) {
			continue
		}
		fmt.Printf("%s\t%d\t%s\n", dir.BufferID, dir.Segments, dir.Path)
	}
}
