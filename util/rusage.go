package util

import (
	"syscall"
	"time"
)

// ProcessCPUTimes returns the user and system CPU time consumed by this process so far
func ProcessCPUTimes() (time.Duration, time.Duration, error) {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0, 0, err
	}
	return time.Duration(rusage.Utime.Nano()), time.Duration(rusage.Stime.Nano()), nil
}
