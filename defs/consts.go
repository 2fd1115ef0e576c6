package defs

// Common labels for logging
const (
	LabelComponent = "component"
	LabelPart      = "part"

	LabelBuffer = "buffer"
	LabelStage  = "stage"
	LabelDir    = "dir"
)

// File and directory names inside of a disk buffer's data dir
const (
	LedgerFileName   = "ledger"
	LockFileName     = "buffer.lock"
	SegmentsDirName  = "segments"
	SegmentFileExt   = ".dat"
	DataDirXattrName = "user.diskbufferID"
)
