package general

import (
	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

// Free releases the allocation at p. It returns false when p is not a live
// allocation of this heap.
func (h *Heap) Free(p osheap.Ptr) bool {
	h.stats.FreeCalls++
	hdr, ok := h.find(p)
	if !ok {
		return false
	}
	ah := layout.DecodeAlloc(h.data, hdr)
	h.addrRemove(hdr)
	h.allocListRemove(hdr, ah.PrevFree)
	h.liveCount--
	h.liveBytes -= int(ah.Units) << layout.UnitShift
	h.addFreeBlock(hdr, ah.Footprint(), ah.PrevFree)
	return true
}

// addFreeBlock returns the span [start, start+size) to the free list, merging it
// with a free neighbour on either side. prevFree is the nearest free block below
// start. Allocations following the resulting block get their preceding-free
// pointer moved to it.
func (h *Heap) addFreeBlock(start, size, prevFree uint32) {
	h.freeBytes += int(size)
	next := h.nextFreeAfter(prevFree)

	if prevFree != nilOff && prevFree+h.freeSize(prevFree) == start {
		h.sizeRemove(prevFree)
		size += h.freeSize(prevFree)
		start = prevFree
		h.stats.CoalesceBackward++
	} else {
		layout.EncodeFree(h.data, start, layout.FreeHeader{Prev: prevFree, Next: next, HashNext: nilOff, Size: size})
		h.relink(prevFree, next, start)
		h.freeCount++
	}

	if next != nilOff && start+size == next {
		nh := layout.DecodeFree(h.data, next)
		h.sizeRemove(next)
		h.relink(start, nh.Next, nilOff)
		size += nh.Size
		h.freeCount--
		h.stats.CoalesceForward++
	}

	h.setFreeSize(start, size)
	h.sizeInsert(start)
	h.fixPrevFree(start+size, h.endOr(h.freeNext(start)), start)
}
