// Package bufpool recycles the byte slices outgoing PDUs are encoded into.
//
// Buffers come in a few fixed size classes backed by sync.Pool. A request
// larger than the biggest class is allocated and never pooled, so one
// oversized P-DATA-TF does not pin memory.
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
//	buf = append(buf, ...)
package bufpool

import (
	"slices"
	"sync"
)

// Default size classes. 4 KiB holds every control PDU, 64 KiB covers the
// common announced maximum PDU lengths and 1 MiB the largest ones.
const (
	SmallSize  = 4 << 10
	MediumSize = 64 << 10
	LargeSize  = 1 << 20
)

type class struct {
	size int
	pool sync.Pool
}

// Pool hands out empty slices with at least the requested capacity. It is
// safe for concurrent use.
type Pool struct {
	classes []*class
}

// New creates a pool with the given size classes. With no sizes it uses
// SmallSize, MediumSize and LargeSize.
func New(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = []int{SmallSize, MediumSize, LargeSize}
	}
	sizes = slices.Clone(sizes)
	slices.Sort(sizes)
	sizes = slices.Compact(sizes)

	p := &Pool{}
	for _, size := range sizes {
		if size <= 0 {
			continue
		}
		c := &class{size: size}
		c.pool.New = func() any {
			b := make([]byte, 0, c.size)
			return &b
		}
		p.classes = append(p.classes, c)
	}
	return p
}

// Get returns a zero-length slice with capacity of at least size.
func (p *Pool) Get(size int) []byte {
	for _, c := range p.classes {
		if size <= c.size {
			return (*c.pool.Get().(*[]byte))[:0]
		}
	}
	return make([]byte, 0, size)
}

// Put returns buf to its class. Slices whose capacity matches no class are
// dropped; so are slices that grew past the capacity Get returned.
func (p *Pool) Put(buf []byte) {
	for _, c := range p.classes {
		if cap(buf) == c.size {
			buf = buf[:0]
			c.pool.Put(&buf)
			return
		}
	}
}

var defaultPool = New()

// Get takes a buffer from the default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put returns a buffer to the default pool.
func Put(buf []byte) { defaultPool.Put(buf) }
