package small

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

const testBase = osheap.Granule

func newTestAllocator(t *testing.T, size int) *Allocator {
	t.Helper()
	a, err := New(osheap.Region{Base: testBase, Data: make([]byte, size)})
	require.NoError(t, err)
	return a
}

func Test_New_TooSmall(t *testing.T) {
	_, err := New(osheap.Region{Base: testBase, Data: make([]byte, MinBlockSize-1)})
	require.ErrorIs(t, err, ErrBlockTooSmall)
}

func Test_New_Layout(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	classes := a.Classes()
	require.Len(t, classes, NumClasses)
	for i, c := range classes {
		assert.Equal(t, (i+1)*ClassStep, c.Size)
		assert.Equal(t, (64<<10)/NumClasses/c.Size, c.Slots)
		assert.Zero(t, c.Used)
	}
	assert.True(t, a.IsEmpty())
}

func Test_New_SlotAreasInsideBlock(t *testing.T) {
	for _, size := range []int{MinBlockSize, 16 << 10, 64<<10 + 48} {
		a := newTestAllocator(t, size)
		for i := range a.classes {
			c := &a.classes[i]
			last := c.slotOffset(c.slots - 1)
			assert.LessOrEqual(t, last+c.size, size, "class %d", c.size)
			assert.GreaterOrEqual(t, c.slotOffset(0), i*a.span)
		}
	}
}

func Test_SlotOffset_OutOfRange(t *testing.T) {
	a := newTestAllocator(t, 16<<10)
	c := &a.classes[3]
	assert.Equal(t, c.start+5*c.size, c.slotOffset(5))
	assert.Panics(t, func() { c.slotOffset(c.slots) })
	assert.Panics(t, func() { c.slotOffset(int(^uint(0) >> 1)) })
	assert.Panics(t, func() { a.mustBytes(testBase+osheap.Ptr(16<<10-8), 16) })
}

func Test_Alloc_SmallestClass(t *testing.T) {
	a := newTestAllocator(t, 64<<10)

	for _, tc := range []struct{ size, slot int }{
		{0, 16}, {1, 16}, {16, 16}, {17, 32}, {100, 112}, {255, 256}, {256, 256},
	} {
		p, ok := a.Alloc(tc.size, layout.MinAlign)
		require.True(t, ok, "size %d", tc.size)
		got, ok := a.SlotSize(p)
		require.True(t, ok)
		assert.Equal(t, tc.slot, got, "size %d", tc.size)
		assert.True(t, layout.IsAligned(uint64(p), layout.MinAlign))
	}

	_, ok := a.Alloc(MaxSize+1, layout.MinAlign)
	assert.False(t, ok, "above the largest class")
	_, ok = a.Alloc(16, 64)
	assert.False(t, ok, "unsupported alignment")
}

func Test_Alloc_NoOverlapAndRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 16<<10)
	rng := rand.New(rand.NewSource(42))

	type live struct {
		p    osheap.Ptr
		size int
		fill byte
	}
	var all []live
	for i := 0; i < 200; i++ {
		size := 1 + rng.Intn(MaxSize)
		p, ok := a.Alloc(size, layout.MinAlign)
		if !ok {
			break
		}
		b, ok := a.Bytes(p, size)
		require.True(t, ok)
		fill := byte(i)
		for j := range b {
			b[j] = fill
		}
		all = append(all, live{p, size, fill})
	}
	require.NotEmpty(t, all)

	for i, x := range all {
		b, ok := a.Bytes(x.p, x.size)
		require.True(t, ok)
		for _, v := range b {
			require.Equal(t, x.fill, v, "allocation %d clobbered", i)
		}
		for j := i + 1; j < len(all); j++ {
			y := all[j]
			overlap := x.p < y.p+osheap.Ptr(y.size) && y.p < x.p+osheap.Ptr(x.size)
			require.False(t, overlap, "0x%X and 0x%X overlap", x.p, y.p)
		}
	}
}

func Test_Alloc_SpillsToLargerClass(t *testing.T) {
	a := newTestAllocator(t, MinBlockSize)
	// Each class gets one 256-byte span: sixteen 16-byte slots.
	for i := 0; i < 16; i++ {
		_, ok := a.Alloc(16, layout.MinAlign)
		require.True(t, ok)
	}
	p, ok := a.Alloc(16, layout.MinAlign)
	require.True(t, ok, "full class should spill upward")
	size, _ := a.SlotSize(p)
	assert.Equal(t, 32, size)

	// The 256 class holds one slot; once taken nothing above it remains.
	_, ok = a.Alloc(256, layout.MinAlign)
	require.True(t, ok)
	_, ok = a.Alloc(256, layout.MinAlign)
	assert.False(t, ok)
}

func Test_Alloc_DoubleAlign(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	for i := 0; i < 100; i++ {
		p, ok := a.Alloc(16, layout.DoubleAlign)
		require.True(t, ok)
		require.True(t, layout.IsAligned(uint64(p), layout.DoubleAlign), "ptr 0x%X", p)
		p, ok = a.Alloc(48, layout.DoubleAlign)
		require.True(t, ok)
		require.True(t, layout.IsAligned(uint64(p), layout.DoubleAlign), "ptr 0x%X", p)
	}
	// Odd 16-byte slots are skipped, not consumed.
	p, ok := a.Alloc(16, layout.MinAlign)
	require.True(t, ok)
	assert.False(t, layout.IsAligned(uint64(p), layout.DoubleAlign))
}

func Test_Free(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	p, ok := a.Alloc(40, layout.MinAlign)
	require.True(t, ok)

	assert.False(t, a.Free(p+16), "not on a slot boundary")
	assert.False(t, a.Free(testBase-16), "outside the block")
	assert.True(t, a.Free(p))
	assert.False(t, a.Free(p), "double free")
	assert.True(t, a.IsEmpty())
	assert.Zero(t, a.UsedBytes())

	// The freed slot is the lowest free one again.
	q, ok := a.Alloc(40, layout.MinAlign)
	require.True(t, ok)
	assert.Equal(t, p, q)
}

func Test_ReAlloc(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	p, ok := a.Alloc(20, layout.MinAlign)
	require.True(t, ok)
	b, _ := a.Bytes(p, 20)
	copy(b, "abcdefghijklmnopqrst")

	np, old, ok := a.ReAlloc(p, 32)
	require.True(t, ok)
	assert.Equal(t, p, np, "fits the current slot")
	assert.Equal(t, 32, old)

	np, old, ok = a.ReAlloc(p, 100)
	require.True(t, ok)
	assert.NotEqual(t, p, np)
	assert.Equal(t, 32, old)
	nb, _ := a.Bytes(np, 20)
	assert.Equal(t, "abcdefghijklmnopqrst", string(nb))
	_, stillLive := a.SlotSize(p)
	assert.False(t, stillLive, "old slot released")

	gone, old, ok := a.ReAlloc(np, MaxSize+1)
	assert.False(t, ok)
	assert.Zero(t, gone)
	assert.Equal(t, 112, old, "old size reported for the caller's fallback")
	_, stillLive = a.SlotSize(np)
	assert.True(t, stillLive, "failed realloc leaves the slot alone")

	_, old, ok = a.ReAlloc(testBase+1, 10)
	assert.False(t, ok)
	assert.Zero(t, old)
}

func Test_IsEmpty_IgnoresPadding(t *testing.T) {
	// 48-byte class over a 4096/16 = 256-byte span has 5 slots: 59 padding bits.
	a := newTestAllocator(t, MinBlockSize)
	require.True(t, a.IsEmpty())

	p, ok := a.Alloc(48, layout.MinAlign)
	require.True(t, ok)
	require.False(t, a.IsEmpty())
	require.True(t, a.Free(p))
	require.True(t, a.IsEmpty())
}

func Test_Trash_Idempotent(t *testing.T) {
	a := newTestAllocator(t, 8<<10)
	for i := 0; i < 50; i++ {
		a.Alloc(1+i*5%MaxSize, layout.MinAlign)
	}
	require.False(t, a.IsEmpty())

	a.Trash()
	require.True(t, a.IsEmpty())
	first := a.Classes()
	a.Trash()
	require.True(t, a.IsEmpty())
	require.Equal(t, first, a.Classes())

	// Padding survives a trash: a class never hands out more than its slots.
	c := a.classes[2]
	for i := 0; i < c.slots; i++ {
		p, ok := a.Alloc(48, layout.MinAlign)
		require.True(t, ok)
		size, _ := a.SlotSize(p)
		require.Equal(t, 48, size)
	}
	p, ok := a.Alloc(48, layout.MinAlign)
	require.True(t, ok)
	size, _ := a.SlotSize(p)
	require.Equal(t, 64, size)
}

func Test_Walk(t *testing.T) {
	a := newTestAllocator(t, 64<<10)
	want := map[osheap.Ptr]int{}
	for _, size := range []int{16, 33, 200} {
		p, ok := a.Alloc(size, layout.MinAlign)
		require.True(t, ok)
		slot, _ := a.SlotSize(p)
		want[p] = slot
	}
	got := map[osheap.Ptr]int{}
	a.Walk(func(p osheap.Ptr, size int) bool {
		got[p] = size
		return true
	})
	assert.Equal(t, want, got)
	assert.Equal(t, 16+48+208, a.UsedBytes())
}
