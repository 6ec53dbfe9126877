package general

import (
	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

// Stats counts heap operations.
type Stats struct {
	AllocCalls       int // Total Alloc() calls
	FreeCalls        int // Total Free() calls
	ReAllocCalls     int // Total ReAlloc() calls
	ReAllocInPlace   int // Resizes that kept the pointer
	ReAllocMoved     int // Resizes that copied within the heap
	Splits           int // Free blocks split by an allocation
	Absorbs          int // Remainders too small for a free block, absorbed
	CoalesceForward  int // Merges with the following free block
	CoalesceBackward int // Merges with the preceding free block
	Probes           int // Free blocks examined by best-fit search
	FixUps           int // Preceding-free pointers rewritten
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.AllocCalls += o.AllocCalls
	s.FreeCalls += o.FreeCalls
	s.ReAllocCalls += o.ReAllocCalls
	s.ReAllocInPlace += o.ReAllocInPlace
	s.ReAllocMoved += o.ReAllocMoved
	s.Splits += o.Splits
	s.Absorbs += o.Absorbs
	s.CoalesceForward += o.CoalesceForward
	s.CoalesceBackward += o.CoalesceBackward
	s.Probes += o.Probes
	s.FixUps += o.FixUps
}

// Stats returns the operation counters.
func (h *Heap) Stats() Stats { return h.stats }

// AllocatedBytes returns the sum of live payload sizes.
func (h *Heap) AllocatedBytes() int { return h.liveBytes }

// FreeBytes returns the sum of free block sizes, headers included.
func (h *Heap) FreeBytes() int { return h.freeBytes }

// LiveAllocations returns the number of live allocations.
func (h *Heap) LiveAllocations() int { return h.liveCount }

// FreeBlocks returns the number of free blocks.
func (h *Heap) FreeBlocks() int { return h.freeCount }

// HeaderBytes returns the bytes spent on allocation headers.
func (h *Heap) HeaderBytes() int { return h.liveCount * layout.HeaderSize }

// Size returns the managed size of the block.
func (h *Heap) Size() int { return int(h.size) }

// LargestFree returns the size of the largest free block.
func (h *Heap) LargestFree() int {
	largest := uint32(0)
	for cur := h.freeHead; cur != nilOff; cur = h.freeNext(cur) {
		largest = max(largest, h.freeSize(cur))
	}
	return int(largest)
}

// Span is one tile of the block as seen by Walk.
type Span struct {
	Offset uint32
	Size   int // whole span, header included
	Free   bool
	Ptr    osheap.Ptr // payload pointer, zero for free spans
}

// Walk calls fn for every free block and allocation in address order until fn
// returns false.
func (h *Heap) Walk(fn func(Span) bool) {
	nextFree := h.freeHead
	for cur := uint32(0); cur < h.size; {
		var s Span
		if cur == nextFree {
			s = Span{Offset: cur, Size: int(h.freeSize(cur)), Free: true}
			nextFree = h.freeNext(cur)
		} else {
			s = Span{Offset: cur, Size: int(h.allocFootprint(cur)), Ptr: h.ptrOf(cur)}
		}
		if !fn(s) {
			return
		}
		cur += uint32(s.Size)
	}
}
