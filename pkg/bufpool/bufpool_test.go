package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_SelectsSizeClass(t *testing.T) {
	p := New()

	tests := []struct {
		size    int
		wantCap int
	}{
		{0, SmallSize},
		{12, SmallSize},
		{SmallSize, SmallSize},
		{SmallSize + 1, MediumSize},
		{16384, MediumSize},
		{MediumSize + 1, LargeSize},
		{LargeSize, LargeSize},
	}
	for _, tt := range tests {
		buf := p.Get(tt.size)
		assert.Len(t, buf, 0)
		assert.Equal(t, tt.wantCap, cap(buf), "size %d", tt.size)
		p.Put(buf)
	}
}

func TestGet_Oversized(t *testing.T) {
	p := New()
	buf := p.Get(LargeSize + 1)
	assert.Equal(t, LargeSize+1, cap(buf))
	assert.NotPanics(t, func() { p.Put(buf) })
}

func TestPut_ResetsLength(t *testing.T) {
	p := New(64)
	buf := append(p.Get(10), "abc"...)
	p.Put(buf)

	again := p.Get(10)
	assert.Len(t, again, 0)
	assert.Equal(t, 64, cap(again))
}

func TestPut_IgnoresForeignBuffers(t *testing.T) {
	p := New(64)
	p.Put(make([]byte, 10, 100))
	p.Put(nil)
	assert.Equal(t, 64, cap(p.Get(1)))
}

func TestNew_NormalizesSizes(t *testing.T) {
	p := New(1024, 16, 16, -1)
	assert.Len(t, p.classes, 2)
	assert.Equal(t, 16, cap(p.Get(8)))
	assert.Equal(t, 1024, cap(p.Get(17)))
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				buf := Get((i*j)%(2*MediumSize) + 1)
				buf = append(buf, byte(j))
				Put(buf)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	for b.Loop() {
		buf := Get(16384)
		Put(buf)
	}
}
