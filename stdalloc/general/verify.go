package general

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/layout"
)

// ValidationError reports the first broken heap invariant found by Verify.
type ValidationError struct {
	Type    string
	Message string
	Offset  int
}

func (e *ValidationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset 0x%X: %s", e.Type, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func verr(typ string, off int, format string, args ...any) error {
	return &ValidationError{Type: typ, Message: fmt.Sprintf(format, args...), Offset: off}
}

// Verify walks every heap invariant and returns the first violation:
//   - the free list is strictly address ordered with consistent back links
//   - no two free blocks are physically adjacent
//   - free blocks and allocations tile the block exactly
//   - every allocation's preceding-free pointer is the nearest free block below it
//   - the allocation list is address ordered and complete
//   - every free block sits in the right size bucket exactly once, and the
//     lowest-bucket cache is exact
//   - every allocation sits in the right address bucket exactly once
func (h *Heap) Verify() error {
	if err := h.verifyFreeList(); err != nil {
		return err
	}
	if err := h.verifyTiling(); err != nil {
		return err
	}
	if err := h.verifySizeHash(); err != nil {
		return err
	}
	return h.verifyAddrHash()
}

func (h *Heap) verifyFreeList() error {
	prev := nilOff
	count, bytes := 0, 0
	for cur := h.freeHead; cur != nilOff; cur = h.freeNext(cur) {
		if count > int(h.size)/layout.MinFreeBlock {
			return verr("FreeList", int(cur), "cycle detected")
		}
		if _, err := buf.CheckSpan(int(h.size), int(cur), layout.HeaderSize); err != nil || cur%layout.UnitSize != 0 {
			return verr("FreeList", int(cur), "bad free block offset")
		}
		size := h.freeSize(cur)
		if size < layout.MinFreeBlock || size%layout.UnitSize != 0 {
			return verr("FreeList", int(cur), "bad free block size %d", size)
		}
		if _, err := buf.CheckSpan(int(h.size), int(cur), int(size)); err != nil {
			return verr("FreeList", int(cur), "free block overruns heap: %v", err)
		}
		if h.freePrev(cur) != prev {
			return verr("FreeList", int(cur), "prev link 0x%X, want 0x%X", h.freePrev(cur), prev)
		}
		if prev != nilOff {
			prevEnd := prev + h.freeSize(prev)
			if cur < prevEnd {
				return verr("FreeList", int(cur), "not address ordered after 0x%X", prev)
			}
			if cur == prevEnd {
				return verr("Coalesce", int(prev), "adjacent free block at 0x%X not merged", cur)
			}
		}
		prev = cur
		count++
		bytes += int(size)
	}
	if h.freeTail != prev {
		return verr("FreeList", int(h.freeTail), "tail 0x%X, want 0x%X", h.freeTail, prev)
	}
	if count != h.freeCount || bytes != h.freeBytes {
		return verr("FreeList", -1, "counted %d blocks/%d bytes, tracked %d/%d", count, bytes, h.freeCount, h.freeBytes)
	}
	return nil
}

func (h *Heap) verifyTiling() error {
	nextFree := h.freeHead
	lastFree := nilOff
	nextAlloc := h.allocHead
	live, liveBytes := 0, 0

	for cur := uint32(0); cur < h.size; {
		if cur == nextFree {
			lastFree = cur
			nextFree = h.freeNext(cur)
			cur += h.freeSize(cur)
			continue
		}
		if cur != nextAlloc {
			return verr("AllocList", int(cur), "allocation list points at 0x%X", nextAlloc)
		}
		ah := layout.DecodeAlloc(h.data, cur)
		if ah.Units == 0 {
			return verr("AllocHeader", int(cur), "zero size")
		}
		if _, err := buf.CheckSpan(int(h.size), int(cur), int(ah.Footprint())); err != nil {
			return verr("AllocHeader", int(cur), "allocation overruns heap: %v", err)
		}
		if nextFree != nilOff && cur+ah.Footprint() > nextFree {
			return verr("AllocHeader", int(cur), "allocation overlaps free block 0x%X", nextFree)
		}
		if ah.PrevFree != lastFree {
			return verr("PrevFree", int(cur), "preceding free 0x%X, want 0x%X", ah.PrevFree, lastFree)
		}
		if ah.Double && uint64(h.ptrOf(cur))%layout.DoubleAlign != 0 {
			return verr("Alignment", int(cur), "double-aligned payload misaligned")
		}
		live++
		liveBytes += int(ah.Units) << layout.UnitShift
		nextAlloc = ah.Next
		cur += ah.Footprint()
	}
	if nextFree != nilOff {
		return verr("Tiling", int(nextFree), "free block not reached by walk")
	}
	if nextAlloc != nilOff {
		return verr("AllocList", int(nextAlloc), "allocation list extends past heap")
	}
	if live != h.liveCount || liveBytes != h.liveBytes {
		return verr("AllocList", -1, "counted %d allocations/%d bytes, tracked %d/%d", live, liveBytes, h.liveCount, h.liveBytes)
	}
	return nil
}

func (h *Heap) verifySizeHash() error {
	indexed := 0
	lowest := len(h.sizeHeads)
	for b, head := range h.sizeHeads {
		if head != nilOff && lowest == len(h.sizeHeads) {
			lowest = b
		}
		for cur := head; cur != nilOff; cur = h.freeHashNext(cur) {
			if indexed > h.freeCount {
				return verr("SizeHash", int(cur), "bucket %d chain too long", b)
			}
			if want := h.sizeTable.getSizeClass(int32(h.freeSize(cur))); want != b {
				return verr("SizeHash", int(cur), "in bucket %d, belongs in %d", b, want)
			}
			indexed++
		}
	}
	if indexed != h.freeCount {
		return verr("SizeHash", -1, "%d blocks indexed, %d free", indexed, h.freeCount)
	}
	if lowest != h.lowest {
		return verr("SizeHash", -1, "lowest bucket cache %d, want %d", h.lowest, lowest)
	}
	return nil
}

func (h *Heap) verifyAddrHash() error {
	indexed := 0
	for b, head := range h.addrHeads {
		for cur := head; cur != nilOff; cur = h.allocHashNext(cur) {
			if indexed > h.liveCount {
				return verr("AddrHash", int(cur), "bucket %d chain too long", b)
			}
			if want := h.addrBucket(cur); want != b {
				return verr("AddrHash", int(cur), "in bucket %d, belongs in %d", b, want)
			}
			indexed++
		}
	}
	if indexed != h.liveCount {
		return verr("AddrHash", -1, "%d allocations indexed, %d live", indexed, h.liveCount)
	}
	return nil
}
