package general

import "github.com/joshuapare/heapkit/internal/layout"

// Field accessors. Offsets are trusted: every caller reached them through the
// free list, the hashes or a header walk.

func (h *Heap) u32(off uint32, field int) uint32 {
	return layout.ReadU32(h.data, int(off)+field)
}

func (h *Heap) put(off uint32, field int, v uint32) {
	layout.PutU32(h.data, int(off)+field, v)
}

func (h *Heap) freeSize(off uint32) uint32     { return h.u32(off, layout.FreeSizeOffset) }
func (h *Heap) freeNext(off uint32) uint32     { return h.u32(off, layout.FreeNextOffset) }
func (h *Heap) freePrev(off uint32) uint32     { return h.u32(off, layout.FreePrevOffset) }
func (h *Heap) freeHashNext(off uint32) uint32 { return h.u32(off, layout.FreeHashNextOffset) }
func (h *Heap) setFreeSize(off, v uint32)      { h.put(off, layout.FreeSizeOffset, v) }

func (h *Heap) allocNext(off uint32) uint32     { return h.u32(off, layout.AllocNextOffset) }
func (h *Heap) allocHashNext(off uint32) uint32 { return h.u32(off, layout.AllocHashNextOffset) }

func (h *Heap) allocFootprint(off uint32) uint32 {
	units, _ := layout.UnpackSize(h.u32(off, layout.AllocPackedOffset))
	return layout.Footprint(units)
}

// nextFreeAfter returns the first free block above an allocation whose nearest
// lower free block is prevFree.
func (h *Heap) nextFreeAfter(prevFree uint32) uint32 {
	if prevFree == nilOff {
		return h.freeHead
	}
	return h.freeNext(prevFree)
}

// relink points the list neighbours prev and next at repl. A repl of nilOff
// unlinks whatever sat between them.
func (h *Heap) relink(prev, next, repl uint32) {
	toNext, toPrev := repl, repl
	if repl == nilOff {
		toNext, toPrev = next, prev
	}
	if prev == nilOff {
		h.freeHead = toNext
	} else {
		h.put(prev, layout.FreeNextOffset, toNext)
	}
	if next == nilOff {
		h.freeTail = toPrev
	} else {
		h.put(next, layout.FreePrevOffset, toPrev)
	}
}

// linkFree writes a new free block of size bytes at off between prev and next
// and indexes it.
func (h *Heap) linkFree(off, prev, next, size uint32) {
	layout.EncodeFree(h.data, off, layout.FreeHeader{Prev: prev, Next: next, HashNext: nilOff, Size: size})
	h.relink(prev, next, off)
	h.sizeInsert(off)
}

// fixPrevFree rewrites the preceding-free pointer of the run of allocations in
// [from, limit), which must contain no free block.
func (h *Heap) fixPrevFree(from, limit, prevFree uint32) {
	for cur := from; cur < limit; cur += h.allocFootprint(cur) {
		h.put(cur, layout.AllocPrevFreeOffset, prevFree)
		h.stats.FixUps++
	}
}

// prevAlloc returns the last allocation below off, given the nearest free block
// below off. Everything between two consecutive free blocks is allocations, so
// the answer is found by walking the run in front of off, or the run in front
// of prevFree when off directly follows it.
func (h *Heap) prevAlloc(off, prevFree uint32) uint32 {
	start, limit := uint32(0), off
	if prevFree != nilOff {
		start = prevFree + h.freeSize(prevFree)
		if start == off {
			limit = prevFree
			start = 0
			if pp := h.freePrev(prevFree); pp != nilOff {
				start = pp + h.freeSize(pp)
			}
		}
	}
	last := nilOff
	for cur := start; cur < limit; cur += h.allocFootprint(cur) {
		last = cur
	}
	return last
}

// allocListInsert links a new allocation into the address-ordered list.
func (h *Heap) allocListInsert(off, prevFree uint32) {
	pred := h.prevAlloc(off, prevFree)
	if pred == nilOff {
		h.put(off, layout.AllocNextOffset, h.allocHead)
		h.allocHead = off
		return
	}
	h.put(off, layout.AllocNextOffset, h.allocNext(pred))
	h.put(pred, layout.AllocNextOffset, off)
}

// allocListRemove unlinks an allocation from the address-ordered list.
func (h *Heap) allocListRemove(off, prevFree uint32) {
	next := h.allocNext(off)
	pred := h.prevAlloc(off, prevFree)
	if pred == nilOff {
		h.allocHead = next
		return
	}
	h.put(pred, layout.AllocNextOffset, next)
}

// sizeInsert pushes a free block onto the head of its size bucket.
func (h *Heap) sizeInsert(off uint32) {
	b := h.sizeTable.getSizeClass(int32(h.freeSize(off)))
	h.put(off, layout.FreeHashNextOffset, h.sizeHeads[b])
	h.sizeHeads[b] = off
	if b < h.lowest {
		h.lowest = b
	}
}

// sizeRemove unlinks a free block from its size bucket. It must be called
// before the block's size field changes.
func (h *Heap) sizeRemove(off uint32) {
	b := h.sizeTable.getSizeClass(int32(h.freeSize(off)))
	next := h.freeHashNext(off)
	if h.sizeHeads[b] == off {
		h.sizeHeads[b] = next
	} else {
		for cur := h.sizeHeads[b]; cur != nilOff; cur = h.freeHashNext(cur) {
			if h.freeHashNext(cur) == off {
				h.put(cur, layout.FreeHashNextOffset, next)
				break
			}
		}
	}
	if b == h.lowest {
		for h.lowest < len(h.sizeHeads) && h.sizeHeads[h.lowest] == nilOff {
			h.lowest++
		}
	}
}

// addrInsert pushes an allocation onto the head of its address bucket.
func (h *Heap) addrInsert(off uint32) {
	b := h.addrBucket(off)
	h.put(off, layout.AllocHashNextOffset, h.addrHeads[b])
	h.addrHeads[b] = off
}

// addrRemove unlinks an allocation from its address bucket.
func (h *Heap) addrRemove(off uint32) {
	b := h.addrBucket(off)
	next := h.allocHashNext(off)
	if h.addrHeads[b] == off {
		h.addrHeads[b] = next
		return
	}
	for cur := h.addrHeads[b]; cur != nilOff; cur = h.allocHashNext(cur) {
		if h.allocHashNext(cur) == off {
			h.put(cur, layout.AllocHashNextOffset, next)
			return
		}
	}
}
