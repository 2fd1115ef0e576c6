package util

import (
	"math/bits"
	"sync"
)

// BytesPool recycles byte slices in size classes by power of two
//
// Get(n) returns a slice of length 2^k >= n. Slices larger than the biggest class are allocated and never recycled.
type BytesPool struct {
	classes [bytesPoolClasses]sync.Pool
}

const bytesPoolClasses = 28 // up to 128MB

// NewBytesPool creates an empty BytesPool
func NewBytesPool() *BytesPool {
	pool := &BytesPool{}
	for i := range pool.classes {
		size := 1 << i
		pool.classes[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return pool
}

func bytesPoolClassOf(length int) int {
	if length <= 1 {
		return 0
	}
	return bits.Len(uint(length - 1))
}

// Get returns a slice of at least the given length
func (pool *BytesPool) Get(length int) *[]byte {
	class := bytesPoolClassOf(length)
	if class >= bytesPoolClasses {
		buf := make([]byte, length)
		return &buf
	}
	return pool.classes[class].Get().(*[]byte)
}

// Put recycles a slice returned by Get. The slice itself must not be resized.
func (pool *BytesPool) Put(buf *[]byte) {
	length := len(*buf)
	class := bytesPoolClassOf(length)
	if class >= bytesPoolClasses || length != 1<<class {
		return
	}
	pool.classes[class].Put(buf)
}
