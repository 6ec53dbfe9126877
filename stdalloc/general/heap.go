// Package general implements a general-purpose heap over one backing block.
//
// The block is tiled by free blocks and allocations, each prefixed with a
// 16-byte header (see internal/layout). Free blocks form an address-ordered
// doubly linked list and are indexed by a size hash for best-fit search.
// Allocations form an address-ordered singly linked list and are indexed by an
// address hash for pointer lookup. Physically adjacent free blocks are always
// merged, and every allocation records the nearest free block below it.
//
// A Heap is not safe for concurrent use; the allocator façade serializes it.
package general

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

const nilOff = layout.NilOffset

var (
	// ErrBlockSize indicates a backing block too small or too large for a heap.
	ErrBlockSize = errors.New("general: unsupported block size")

	// ErrBlockAlign indicates a backing block whose base is not DoubleAlign aligned.
	ErrBlockAlign = errors.New("general: misaligned block base")
)

// Options tunes a Heap. The zero value is usable.
type Options struct {
	// SizeClasses defines the size-hash buckets. Zero selects DefaultSizeClasses.
	SizeClasses SizeClassConfig
	// AddressHash selects the address-hash policy.
	AddressHash HashPolicy
	// ProbeBudget caps the fitting candidates examined per size bucket before
	// the best one seen is taken. 0 searches each bucket exhaustively.
	ProbeBudget int
}

// Allocation describes one live allocation.
type Allocation struct {
	Ptr    osheap.Ptr
	Size   int  // payload bytes, always a multiple of 16
	Double bool // made in the DoubleAlign class
}

// Heap manages one backing block.
type Heap struct {
	region osheap.Region
	data   []byte
	size   uint32 // usable bytes, a multiple of UnitSize

	freeHead  uint32
	freeTail  uint32
	allocHead uint32

	sizeTable *sizeClassTable
	sizeHeads []uint32
	lowest    int // lowest non-empty size bucket, len(sizeHeads) when none

	addrHeads []uint32
	hash      HashPolicy

	probeBudget int

	liveCount int
	liveBytes int // sum of payload sizes
	freeBytes int // sum of free block sizes
	freeCount int

	stats Stats
}

// New creates a heap over r. The whole block starts as one free span.
func New(r osheap.Region, opts Options) (*Heap, error) {
	usable := r.Len() &^ (layout.UnitSize - 1)
	if usable < layout.MinFreeBlock || usable > layout.MaxBlockSize {
		return nil, errors.Wrapf(ErrBlockSize, "%d bytes", r.Len())
	}
	if !layout.IsAligned(uint64(r.Base), layout.DoubleAlign) {
		return nil, errors.Wrapf(ErrBlockAlign, "base 0x%X", uint64(r.Base))
	}
	cfg := opts.SizeClasses
	if cfg.Name == "" {
		cfg = DefaultSizeClasses
	}
	h := &Heap{
		region:      r,
		data:        r.Data[:usable],
		size:        uint32(usable),
		sizeTable:   newSizeClassTable(cfg),
		hash:        opts.AddressHash,
		probeBudget: opts.ProbeBudget,
	}
	h.sizeHeads = make([]uint32, h.sizeTable.NumBuckets())
	h.addrHeads = make([]uint32, addrBucketCount(h.size))
	h.Trash()
	return h, nil
}

// Trash discards every allocation and turns the block back into one free span.
func (h *Heap) Trash() {
	for i := range h.sizeHeads {
		h.sizeHeads[i] = nilOff
	}
	h.lowest = len(h.sizeHeads)
	for i := range h.addrHeads {
		h.addrHeads[i] = nilOff
	}
	h.allocHead = nilOff
	h.freeHead, h.freeTail = 0, 0
	layout.EncodeFree(h.data, 0, layout.FreeHeader{Prev: nilOff, Next: nilOff, HashNext: nilOff, Size: h.size})
	h.sizeInsert(0)
	h.liveCount, h.liveBytes = 0, 0
	h.freeCount, h.freeBytes = 1, int(h.size)
}

// Region returns the backing block.
func (h *Heap) Region() osheap.Region { return h.region }

// Contains reports whether p lies inside the backing block.
func (h *Heap) Contains(p osheap.Ptr) bool { return h.region.Contains(p) }

// Alloc returns a pointer to at least size bytes aligned to align (0, a power of
// two up to MinAlign, or DoubleAlign). Size 0 is served as size 1. It returns
// ok = false when no free block fits.
func (h *Heap) Alloc(size, align int) (osheap.Ptr, bool) {
	h.stats.AllocCalls++
	if size > layout.MaxBlockSize {
		return 0, false
	}
	double, ok := layout.ClassOf(align)
	if !ok {
		return 0, false
	}
	units := layout.Units(size, double)
	need := layout.Footprint(units)
	if need > h.size {
		return 0, false
	}
	f, lead := h.findFree(need, double)
	if f == nilOff {
		return 0, false
	}
	hdr := h.carve(f, lead, units, double)
	return h.ptrOf(hdr), true
}

func (h *Heap) ptrOf(hdr uint32) osheap.Ptr {
	return h.region.Base + osheap.Ptr(hdr+layout.HeaderSize)
}

// leadFor returns the bytes left in front of an allocation carved from f: 0,
// or a 48-byte free block when a double-aligned payload cannot start at f+16.
func leadFor(f uint32, double bool) uint32 {
	if !double || (f+layout.HeaderSize)%layout.DoubleAlign == 0 {
		return 0
	}
	return layout.HeaderSize + layout.DoubleAlign
}

// findFree runs the bounded best-fit search over the size hash, starting at the
// bucket for need or the lowest non-empty bucket, whichever is higher.
func (h *Heap) findFree(need uint32, double bool) (uint32, uint32) {
	start := max(h.sizeTable.getSizeClass(int32(need)), h.lowest)
	for b := start; b < len(h.sizeHeads); b++ {
		best, bestLead := nilOff, uint32(0)
		bestSize := uint32(0)
		fits := 0
		for cur := h.sizeHeads[b]; cur != nilOff; cur = h.freeHashNext(cur) {
			h.stats.Probes++
			sz := h.freeSize(cur)
			lead := leadFor(cur, double)
			if sz < need+lead {
				continue
			}
			if sz == need+lead {
				return cur, lead
			}
			if best == nilOff || sz < bestSize {
				best, bestLead, bestSize = cur, lead, sz
			}
			fits++
			if h.probeBudget > 0 && fits >= h.probeBudget {
				break
			}
		}
		if best != nilOff {
			return best, bestLead
		}
	}
	return nilOff, 0
}

// carve turns the front of free block f into an allocation and returns its
// header offset. The free block shrinks, moves, or disappears.
func (h *Heap) carve(f, lead, units uint32, double bool) uint32 {
	fh := layout.DecodeFree(h.data, f)
	need := layout.Footprint(units)
	hdr := f + lead
	rem := fh.Size - lead - need
	oldEnd := f + fh.Size
	limit := h.endOr(fh.Next)

	h.sizeRemove(f)

	var prevFree uint32
	switch {
	case lead > 0:
		// f stays behind as the lead block.
		h.setFreeSize(f, lead)
		h.sizeInsert(f)
		prevFree = f
		if rem < layout.MinFreeBlock {
			units += rem >> layout.UnitShift
			h.freeBytes -= int(fh.Size - lead)
			h.stats.Absorbs++
			break
		}
		r := hdr + need
		h.linkFree(r, f, fh.Next, rem)
		h.fixPrevFree(oldEnd, limit, r)
		h.freeBytes -= int(need)
		h.freeCount++
		h.stats.Splits++
	case rem < layout.MinFreeBlock:
		units += rem >> layout.UnitShift
		prevFree = fh.Prev
		h.relink(fh.Prev, fh.Next, nilOff)
		h.fixPrevFree(oldEnd, limit, prevFree)
		h.freeBytes -= int(fh.Size)
		h.freeCount--
		h.stats.Absorbs++
	default:
		prevFree = fh.Prev
		r := f + need
		h.linkFree(r, fh.Prev, fh.Next, rem)
		h.fixPrevFree(oldEnd, limit, r)
		h.freeBytes -= int(need)
		h.stats.Splits++
	}

	layout.EncodeAlloc(h.data, hdr, layout.AllocHeader{
		PrevFree: prevFree,
		Next:     nilOff,
		HashNext: nilOff,
		Units:    units,
		Double:   double,
	})
	h.allocListInsert(hdr, prevFree)
	h.addrInsert(hdr)
	h.liveCount++
	h.liveBytes += int(units) << layout.UnitShift
	return hdr
}

// endOr returns off, or the end of the block when off is nil.
func (h *Heap) endOr(off uint32) uint32 {
	if off == nilOff {
		return h.size
	}
	return off
}

// find resolves p to its allocation header via the address hash.
func (h *Heap) find(p osheap.Ptr) (uint32, bool) {
	if !h.region.Contains(p) {
		return 0, false
	}
	off := h.region.Offset(p)
	if off < layout.HeaderSize || off >= int(h.size) || off%layout.UnitSize != 0 {
		return 0, false
	}
	hdr := uint32(off - layout.HeaderSize)
	for cur := h.addrHeads[h.addrBucket(hdr)]; cur != nilOff; cur = h.allocHashNext(cur) {
		if cur == hdr {
			return hdr, true
		}
	}
	return 0, false
}

// Lookup returns the live allocation at p.
func (h *Heap) Lookup(p osheap.Ptr) (Allocation, bool) {
	hdr, ok := h.find(p)
	if !ok {
		return Allocation{}, false
	}
	return h.allocationAt(hdr), true
}

func (h *Heap) allocationAt(hdr uint32) Allocation {
	ah := layout.DecodeAlloc(h.data, hdr)
	return Allocation{Ptr: h.ptrOf(hdr), Size: int(ah.Units) << layout.UnitShift, Double: ah.Double}
}

// Bytes returns a view of the first n payload bytes of the allocation at p.
func (h *Heap) Bytes(p osheap.Ptr, n int) ([]byte, bool) {
	hdr, ok := h.find(p)
	if !ok {
		return nil, false
	}
	units, _ := layout.UnpackSize(layout.ReadU32(h.data, int(hdr)+layout.AllocPackedOffset))
	if n > int(units)<<layout.UnitShift {
		return nil, false
	}
	return buf.Slice(h.data, int(hdr)+layout.HeaderSize, n)
}

// IsEmpty reports whether no allocation is live. When report is non-nil it is
// called for every live allocation in address order.
func (h *Heap) IsEmpty(report func(Allocation)) bool {
	empty := true
	for _, head := range h.addrHeads {
		if head != nilOff {
			empty = false
			break
		}
	}
	if !empty && report != nil {
		for cur := h.allocHead; cur != nilOff; cur = h.allocNext(cur) {
			report(h.allocationAt(cur))
		}
	}
	return empty
}
