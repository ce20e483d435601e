// internal/transport/ring.go
package transport

import (
	"go.uber.org/atomic"
)

// Ring is a fixed-capacity single-producer/single-consumer byte ring.
//
// The producer is the only writer of tail and the consumer is the only writer
// of head. Both indices run freely and wrap at 2^32; the slot index is taken
// with a mask, which is why the capacity is always a power of two. Index
// stores are atomic so the side that did not write an index observes the
// published value together with the bytes behind it.
type Ring struct {
	buf  []byte
	mask uint32
	head atomic.Uint32 // consumer
	tail atomic.Uint32 // producer
}

// NewRing creates a ring holding at least size bytes.
func NewRing(size int) *Ring {
	if size < 2 {
		size = 2
	}
	n := uint32(1)
	for int(n) < size {
		n <<= 1
	}
	return &Ring{
		buf:  make([]byte, n),
		mask: n - 1,
	}
}

// Cap returns the ring capacity in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Used returns the number of bytes buffered.
func (r *Ring) Used() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the number of bytes that can still be put.
func (r *Ring) Free() int {
	return len(r.buf) - r.Used()
}

// Put appends one byte. It reports false when the ring is full.
// Producer side only.
func (r *Ring) Put(b byte) bool {
	tail := r.tail.Load()
	if int(tail-r.head.Load()) >= len(r.buf) {
		return false
	}
	r.buf[tail&r.mask] = b
	r.tail.Store(tail + 1)
	return true
}

// Write appends as many bytes of p as fit and returns the count.
// Producer side only.
func (r *Ring) Write(p []byte) int {
	tail := r.tail.Load()
	free := len(r.buf) - int(tail-r.head.Load())
	n := len(p)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[(tail+uint32(i))&r.mask] = p[i]
	}
	r.tail.Store(tail + uint32(n))
	return n
}

// Get removes one byte. It reports false when the ring is empty.
// Consumer side only.
func (r *Ring) Get() (byte, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return 0, false
	}
	b := r.buf[head&r.mask]
	r.head.Store(head + 1)
	return b, true
}

// Read removes up to len(p) bytes into p and returns the count.
// Consumer side only.
func (r *Ring) Read(p []byte) int {
	n := r.Peek(p)
	if n > 0 {
		r.head.Add(uint32(n))
	}
	return n
}

// Peek copies up to len(p) buffered bytes into p without consuming them.
// Consumer side only.
func (r *Ring) Peek(p []byte) int {
	head := r.head.Load()
	used := int(r.tail.Load() - head)
	n := len(p)
	if n > used {
		n = used
	}
	for i := 0; i < n; i++ {
		p[i] = r.buf[(head+uint32(i))&r.mask]
	}
	return n
}

// Discard drops up to n buffered bytes and returns how many were dropped.
// Consumer side only.
func (r *Ring) Discard(n int) int {
	used := r.Used()
	if n > used {
		n = used
	}
	if n > 0 {
		r.head.Add(uint32(n))
	}
	return n
}

// Reset drops everything currently buffered. Consumer side only.
func (r *Ring) Reset() int {
	return r.Discard(r.Used())
}
