package general

import (
	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

// ReAlloc resizes the allocation at p. Shrinking happens in place and donates
// the tail to the free list when it can hold a free block or merges into the
// free block that follows. Growing extends into
// a following free block when one is large enough, otherwise moves the data
// within this heap. The returned Allocation always describes the allocation as
// it was before the call. On failure p is untouched and the caller may move the
// data to another heap itself.
func (h *Heap) ReAlloc(p osheap.Ptr, newSize int) (osheap.Ptr, Allocation, bool) {
	h.stats.ReAllocCalls++
	hdr, ok := h.find(p)
	if !ok {
		return 0, Allocation{}, false
	}
	ah := layout.DecodeAlloc(h.data, hdr)
	old := Allocation{Ptr: p, Size: int(ah.Units) << layout.UnitShift, Double: ah.Double}
	if newSize > layout.MaxBlockSize {
		return 0, old, false
	}
	units := layout.Units(newSize, ah.Double)

	switch {
	case units == ah.Units:
		return p, old, true
	case units < ah.Units:
		tail := (ah.Units - units) << layout.UnitShift
		// A sliver below MinFreeBlock can only join a free block right after it.
		if tail < layout.MinFreeBlock && h.nextFreeAfter(ah.PrevFree) != hdr+ah.Footprint() {
			return p, old, true
		}
		h.setUnits(hdr, ah, units)
		h.addFreeBlock(hdr+layout.Footprint(units), tail, ah.PrevFree)
		h.stats.ReAllocInPlace++
		return p, old, true
	}

	if h.growInPlace(hdr, ah, units) {
		h.stats.ReAllocInPlace++
		return p, old, true
	}

	align := layout.MinAlign
	if ah.Double {
		align = layout.DoubleAlign
	}
	np, ok := h.Alloc(newSize, align)
	if !ok {
		return 0, old, false
	}
	dst, _ := h.Bytes(np, old.Size)
	src, _ := h.Bytes(p, old.Size)
	copy(dst, src)
	h.Free(p)
	h.stats.ReAllocMoved++
	return np, old, true
}

func (h *Heap) setUnits(hdr uint32, ah layout.AllocHeader, units uint32) {
	h.liveBytes += (int(units) - int(ah.Units)) << layout.UnitShift
	ah.Units = units
	layout.EncodeAlloc(h.data, hdr, ah)
}

// growInPlace extends the allocation at hdr into the free block directly after
// it. A remainder too small to stand alone is absorbed as well.
func (h *Heap) growInPlace(hdr uint32, ah layout.AllocHeader, units uint32) bool {
	end := hdr + ah.Footprint()
	next := h.nextFreeAfter(ah.PrevFree)
	if next == nilOff || next != end {
		return false
	}
	nh := layout.DecodeFree(h.data, next)
	extra := (units - ah.Units) << layout.UnitShift
	if nh.Size < extra {
		return false
	}

	h.sizeRemove(next)
	limit := h.endOr(nh.Next)
	rem := nh.Size - extra
	if rem < layout.MinFreeBlock {
		units = ah.Units + nh.Size>>layout.UnitShift
		h.relink(nh.Prev, nh.Next, nilOff)
		h.fixPrevFree(next+nh.Size, limit, ah.PrevFree)
		h.freeBytes -= int(nh.Size)
		h.freeCount--
		h.stats.Absorbs++
	} else {
		r := end + extra
		h.linkFree(r, nh.Prev, nh.Next, rem)
		h.fixPrevFree(r+rem, limit, r)
		h.freeBytes -= int(extra)
	}
	h.setUnits(hdr, ah, units)
	return true
}
