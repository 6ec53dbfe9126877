package general

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

const testBase = osheap.Granule

func newTestHeap(t *testing.T, size int, opts Options) *Heap {
	t.Helper()
	h, err := New(osheap.Region{Base: testBase, Data: make([]byte, size)}, opts)
	require.NoError(t, err)
	assertInvariants(t, h)
	return h
}

func mustAlloc(t *testing.T, h *Heap, size, align int) osheap.Ptr {
	t.Helper()
	p, ok := h.Alloc(size, align)
	require.True(t, ok, "Alloc(%d, %d) failed", size, align)
	assertInvariants(t, h)
	return p
}

func mustFree(t *testing.T, h *Heap, p osheap.Ptr) {
	t.Helper()
	require.True(t, h.Free(p), "Free(0x%X) failed", p)
	assertInvariants(t, h)
}

// assertInvariants checks Verify plus conservation: payloads, headers and free
// blocks add up to the managed size.
func assertInvariants(t *testing.T, h *Heap) {
	t.Helper()
	require.NoError(t, h.Verify())
	require.Equal(t, h.Size(), h.AllocatedBytes()+h.HeaderBytes()+h.FreeBytes(), "bytes not conserved")

	walked := 0
	h.Walk(func(s Span) bool {
		walked += s.Size
		return true
	})
	require.Equal(t, h.Size(), walked)
}

// freeSpans returns the free blocks in address order as [offset, size] pairs.
func freeSpans(h *Heap) [][2]int {
	var out [][2]int
	h.Walk(func(s Span) bool {
		if s.Free {
			out = append(out, [2]int{int(s.Offset), s.Size})
		}
		return true
	})
	return out
}

func hdrOf(p osheap.Ptr) uint32 {
	return uint32(p-testBase) - layout.HeaderSize
}
