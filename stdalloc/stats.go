package stdalloc

import "github.com/joshuapare/heapkit/stdalloc/general"

// Stats is a snapshot of allocator activity and occupancy.
type Stats struct {
	AllocCalls    int // Total Alloc() and CAlloc() calls
	FreeCalls     int // Total Free() calls with a non-null pointer
	ReAllocCalls  int // Total ReAlloc() calls
	SmallAllocs   int // Allocations served by the small chain
	GeneralAllocs int // Allocations served by the general chain
	CrossMoves    int // Resizes copied to a different block or chain
	Grows         int // Blocks added after the initial one
	GrowBytes     int // Bytes added by Grows
	GrowFailures  int // Block requests refused by the OS heap
	Releases      int // Empty blocks returned by ReleaseEmptyHeaps

	SmallBlocks    int
	GeneralBlocks  int
	BackingBytes   int
	AllocatedBytes int
	FreeBytes      int // free block bytes in general blocks
	HeaderBytes    int // allocation header bytes in general blocks

	General general.Stats // summed over the current general blocks
}

// Stats returns a snapshot of the counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.SmallBlocks = len(a.smalls)
	s.GeneralBlocks = len(a.generals)
	s.BackingBytes = a.backingLocked()
	s.AllocatedBytes = a.allocatedLocked()
	for _, h := range a.generals {
		s.FreeBytes += h.FreeBytes()
		s.HeaderBytes += h.HeaderBytes()
		s.General.Add(h.Stats())
	}
	return s
}
