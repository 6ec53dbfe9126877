// Package osheap acquires and releases the backing blocks every sub-allocator
// carves up. Blocks are addressed through virtual pointers so that no Go pointer
// is ever stored inside managed memory.
package osheap

// Ptr is a virtual address inside some backing block. The zero Ptr is null.
type Ptr uint64

// Granule is the alignment of every backing block's base and the minimum gap
// left between two blocks.
const Granule = 64 << 10

// Region is one backing block handed out by a Heap.
type Region struct {
	Base Ptr
	Data []byte
}

// Len returns the block size in bytes.
func (r Region) Len() int { return len(r.Data) }

// End returns the first address past the block.
func (r Region) End() Ptr { return r.Base + Ptr(len(r.Data)) }

// Contains reports whether p lies inside the block.
func (r Region) Contains(p Ptr) bool {
	return p >= r.Base && p < r.End()
}

// Offset converts p to an index into Data. The caller checks Contains first.
func (r Region) Offset(p Ptr) int { return int(p - r.Base) }

// Heap is the contract the allocator façade grows through.
// Both methods are safe for concurrent use and never panic.
type Heap interface {
	Alloc(size int) (Region, bool)
	Free(base Ptr) bool
}
