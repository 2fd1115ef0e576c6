package util

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"runtime/debug"
	"sync/atomic"
)

// Stack returns current stack trace as string
func Stack() string {
	return string(debug.Stack())
}

// MD5ToHexdigest computes MD5 for given string and returns hex
func MD5ToHexdigest(content string) string {
	hash := md5.Sum([]byte(content)) //nolint:gosec
	return hex.EncodeToString(hash[:])
}

// NewRunOnce creates a function that would call the given "f" at most once, e.g. to close resources
//
// The returned function returns true when "f" is actually called
func NewRunOnce(f func()) func() bool {
	var invoked atomic.Bool
	return func() bool {
		if invoked.CompareAndSwap(false, true) {
			f()
			return true
		}
		return false
	}
}
