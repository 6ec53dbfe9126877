package general

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

func reAlloc(t *testing.T, h *Heap, p osheap.Ptr, n int) (osheap.Ptr, Allocation) {
	t.Helper()
	np, old, ok := h.ReAlloc(p, n)
	require.True(t, ok, "ReAlloc(0x%X, %d) failed", p, n)
	assertInvariants(t, h)
	return np, old
}

// Scenario C: shrinking keeps the pointer and donates the tail.
func Test_ReAlloc_ShrinkInPlace(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 100, layout.MinAlign)

	np, old := reAlloc(t, h, p, 50)
	assert.Equal(t, p, np)
	assert.Equal(t, Allocation{Ptr: p, Size: 112}, old)
	a, _ := h.Lookup(p)
	assert.Equal(t, 64, a.Size)
	assert.Equal(t, [][2]int{{80, 4096 - 80}}, freeSpans(h), "tail merged with the following free block")
}

func Test_ReAlloc_ShrinkSliverKept(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 100, layout.MinAlign)
	mustAlloc(t, h, 16, layout.MinAlign)
	free := h.FreeBytes()

	np, _ := reAlloc(t, h, p, 90)
	assert.Equal(t, p, np)
	a, _ := h.Lookup(p)
	assert.Equal(t, 112, a.Size, "16-byte tail cannot hold a free block")
	assert.Equal(t, free, h.FreeBytes())
	assert.Equal(t, [][2]int{{160, 4096 - 160}}, freeSpans(h))
}

func Test_ReAlloc_ShrinkSliverMergesForward(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 100, layout.MinAlign)
	free := h.FreeBytes()

	np, _ := reAlloc(t, h, p, 90)
	assert.Equal(t, p, np)
	a, _ := h.Lookup(p)
	assert.Equal(t, 96, a.Size)
	assert.Equal(t, free+16, h.FreeBytes())
	assert.Equal(t, [][2]int{{112, 4096 - 112}}, freeSpans(h), "sliver joined the following free block")
	assert.Equal(t, 1, h.FreeBlocks())
}

func Test_ReAlloc_ShrinkBetweenAllocations(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 200, layout.MinAlign)
	q := mustAlloc(t, h, 16, layout.MinAlign)

	reAlloc(t, h, p, 16)
	assert.Equal(t, [][2]int{{32, 192}, {256, 4096 - 256}}, freeSpans(h))
	assert.Equal(t, uint32(32), layout.DecodeAlloc(h.data, hdrOf(q)).PrevFree)
}

func Test_ReAlloc_GrowInPlace(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 64, layout.MinAlign)

	np, _ := reAlloc(t, h, p, 200)
	assert.Equal(t, p, np)
	a, _ := h.Lookup(p)
	assert.Equal(t, 208, a.Size)
	assert.Equal(t, [][2]int{{224, 4096 - 224}}, freeSpans(h))
}

func Test_ReAlloc_GrowAbsorbsSliver(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 64, layout.MinAlign)
	q := mustAlloc(t, h, 64, layout.MinAlign)
	r := mustAlloc(t, h, 64, layout.MinAlign)
	mustFree(t, h, q)

	np, _ := reAlloc(t, h, p, 120)
	assert.Equal(t, p, np)
	a, _ := h.Lookup(p)
	assert.Equal(t, 144, a.Size, "whole 80-byte hole absorbed")
	assert.Equal(t, nilOff, layout.DecodeAlloc(h.data, hdrOf(r)).PrevFree)
	assert.Equal(t, [][2]int{{240, 4096 - 240}}, freeSpans(h))
}

func Test_ReAlloc_GrowMoves(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 64, layout.MinAlign)
	mustAlloc(t, h, 64, layout.MinAlign)

	b, _ := h.Bytes(p, 64)
	for i := range b {
		b[i] = byte(i + 1)
	}

	np, old := reAlloc(t, h, p, 200)
	assert.NotEqual(t, p, np)
	assert.Equal(t, Allocation{Ptr: p, Size: 64}, old)
	nb, ok := h.Bytes(np, 64)
	require.True(t, ok)
	for i := range nb {
		require.Equal(t, byte(i+1), nb[i])
	}
	_, live := h.Lookup(p)
	assert.False(t, live)
	assert.Equal(t, 1, h.Stats().ReAllocMoved)
}

func Test_ReAlloc_GrowMovesKeepsAlignment(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 32, layout.DoubleAlign)
	mustAlloc(t, h, 64, layout.MinAlign) // too big for the lead block, lands right after p

	np, _ := reAlloc(t, h, p, 300)
	assert.NotEqual(t, p, np)
	assert.True(t, layout.IsAligned(uint64(np), layout.DoubleAlign))
	a, _ := h.Lookup(np)
	assert.True(t, a.Double)
}

func Test_ReAlloc_FailureLeavesOriginal(t *testing.T) {
	h := newTestHeap(t, 4096, Options{})
	p := mustAlloc(t, h, 64, layout.MinAlign)
	mustAlloc(t, h, 3900, layout.MinAlign)

	np, old, ok := h.ReAlloc(p, 3000)
	assert.False(t, ok)
	assert.Zero(t, np)
	assert.Equal(t, Allocation{Ptr: p, Size: 64}, old, "original returned for a cross-heap move")
	_, live := h.Lookup(p)
	assert.True(t, live)
	assertInvariants(t, h)

	_, old, ok = h.ReAlloc(p+16, 10)
	assert.False(t, ok)
	assert.Equal(t, Allocation{}, old)
}
