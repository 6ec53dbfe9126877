// Package small is a header-free allocator for requests of at most 256 bytes.
// A backing block is split evenly between sixteen size classes; each class is a
// run of fixed-size slots whose occupancy is tracked in a bitmap.
package small

import (
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

const (
	// NumClasses is the number of slot sizes, ClassStep apart.
	NumClasses = 16
	ClassStep  = 16
	// MaxSize is the largest request served.
	MaxSize = NumClasses * ClassStep

	// spanAlign keeps every class's slot area aligned for its largest slot.
	spanAlign = MaxSize
	// MinBlockSize is the smallest block giving every class at least one slot.
	MinBlockSize = NumClasses * spanAlign
)

// ErrBlockTooSmall is returned by New for blocks under MinBlockSize.
var ErrBlockTooSmall = errors.New("small: block too small")

type class struct {
	size  int // slot size
	start int // offset of the first slot in the block
	slots int
	bits  []uint64 // 1 = allocated; padding past slots is always 1
	hint  int      // no clear bit exists below this word
	used  int      // live slots
}

// Allocator serves one backing block. It is not safe for concurrent use.
type Allocator struct {
	region  osheap.Region
	span    int // bytes given to each class
	classes [NumClasses]class
	used    int // bytes in live slots
}

// New lays out the size classes over r.
func New(r osheap.Region) (*Allocator, error) {
	if r.Len() < MinBlockSize {
		return nil, errors.Wrapf(ErrBlockTooSmall, "%d bytes, need %d", r.Len(), MinBlockSize)
	}
	a := &Allocator{
		region: r,
		span:   r.Len() / NumClasses &^ (spanAlign - 1),
	}
	for i := range a.classes {
		c := &a.classes[i]
		c.size = (i + 1) * ClassStep
		c.start = i * a.span
		c.slots = a.span / c.size
		area, ok := buf.MulOverflowSafe(c.slots, c.size)
		if !ok {
			return nil, errors.Newf("small: class %d slot area overflows", c.size)
		}
		if _, err := buf.CheckSpan(r.Len(), c.start, area); err != nil {
			return nil, errors.Wrapf(err, "small: class %d", c.size)
		}
		c.bits = make([]uint64, wordsFor(c.slots))
	}
	a.Trash()
	return a, nil
}

// classFor returns the smallest class index holding size bytes.
func classFor(size int) int {
	if size <= 0 {
		return 0
	}
	return (size - 1) / ClassStep
}

// Alloc returns a slot of at least size bytes aligned to align, which must be
// MinAlign or DoubleAlign (0 selects MinAlign). Full classes spill into larger
// ones. It returns ok = false when size exceeds MaxSize or nothing is free.
func (a *Allocator) Alloc(size, align int) (osheap.Ptr, bool) {
	if size > MaxSize {
		return 0, false
	}
	double, ok := layout.ClassOf(align)
	if !ok {
		return 0, false
	}
	for ci := classFor(size); ci < NumClasses; ci++ {
		c := &a.classes[ci]
		var idx int
		if double {
			idx = a.scanAligned(c, layout.DoubleAlign)
		} else {
			idx = c.scan()
		}
		if idx < 0 {
			continue
		}
		c.bits[idx/wordBits] |= 1 << uint(idx%wordBits)
		c.used++
		a.used += c.size
		return a.slotPtr(c, idx), true
	}
	return 0, false
}

// scan finds the lowest free slot using the word-level halving search.
func (c *class) scan() int {
	for wi := c.hint; wi < len(c.bits); wi++ {
		w := c.bits[wi]
		if w == fullWord {
			continue
		}
		c.hint = wi
		return wi*wordBits + int(lowestClear(w))
	}
	c.hint = len(c.bits)
	return -1
}

// scanAligned walks free slots in order until one sits on an align boundary.
func (a *Allocator) scanAligned(c *class, align uint64) int {
	advance := true
	for wi := c.hint; wi < len(c.bits); wi++ {
		w := c.bits[wi]
		if w == fullWord {
			if advance {
				c.hint = wi + 1
			}
			continue
		}
		advance = false
		for b := 0; b < wordBits; b++ {
			if w&(1<<uint(b)) != 0 {
				continue
			}
			idx := wi*wordBits + b
			if layout.IsAligned(uint64(a.slotPtr(c, idx)), align) {
				return idx
			}
		}
	}
	return -1
}

func (a *Allocator) slotPtr(c *class, idx int) osheap.Ptr {
	return a.region.Base + osheap.Ptr(c.slotOffset(idx))
}

// slotOffset returns the block offset of slot idx, which must be a real slot.
func (c *class) slotOffset(idx int) int {
	rel, ok := buf.MulOverflowSafe(idx, c.size)
	if !ok || idx >= c.slots {
		panic(errors.AssertionFailedf("small: slot %d outside class %d of %d slots", idx, c.size, c.slots))
	}
	return c.start + rel
}

// locate maps p to its class and slot. It fails for pointers outside the block,
// pointers not on a slot boundary and slots that are not allocated.
func (a *Allocator) locate(p osheap.Ptr) (*class, int, bool) {
	if !a.region.Contains(p) {
		return nil, 0, false
	}
	off := a.region.Offset(p)
	ci := off / a.span
	if ci >= NumClasses {
		return nil, 0, false
	}
	c := &a.classes[ci]
	rel := off - c.start
	if rel%c.size != 0 {
		return nil, 0, false
	}
	idx := rel / c.size
	if idx >= c.slots || c.bits[idx/wordBits]&(1<<uint(idx%wordBits)) == 0 {
		return nil, 0, false
	}
	return c, idx, true
}

// Free releases the slot at p.
func (a *Allocator) Free(p osheap.Ptr) bool {
	c, idx, ok := a.locate(p)
	if !ok {
		return false
	}
	wi := idx / wordBits
	c.bits[wi] &^= 1 << uint(idx%wordBits)
	if wi < c.hint {
		c.hint = wi
	}
	c.used--
	a.used -= c.size
	return true
}

// ReAlloc resizes the slot at p. A size that still fits the slot returns p.
// A size above MaxSize, or no free slot in this block, returns ok = false with
// the old slot size so the caller can move the data elsewhere.
func (a *Allocator) ReAlloc(p osheap.Ptr, newSize int) (np osheap.Ptr, oldSize int, ok bool) {
	c, _, found := a.locate(p)
	if !found {
		return 0, 0, false
	}
	oldSize = c.size
	if newSize <= oldSize {
		return p, oldSize, true
	}
	if newSize > MaxSize {
		return 0, oldSize, false
	}
	align := layout.MinAlign
	if layout.IsAligned(uint64(p), layout.DoubleAlign) {
		align = layout.DoubleAlign
	}
	np, ok = a.Alloc(newSize, align)
	if !ok {
		return 0, oldSize, false
	}
	copy(a.mustBytes(np, oldSize), a.mustBytes(p, oldSize))
	a.Free(p)
	return np, oldSize, true
}

// IsEmpty reports whether no real slot is allocated.
func (a *Allocator) IsEmpty() bool {
	for i := range a.classes {
		c := &a.classes[i]
		full := c.slots / wordBits
		for wi := 0; wi < full; wi++ {
			if c.bits[wi] != 0 {
				return false
			}
		}
		for idx := full * wordBits; idx < c.slots; idx++ {
			if c.bits[full]&(1<<uint(idx%wordBits)) != 0 {
				return false
			}
		}
	}
	return true
}

// Trash forgets every allocation and re-marks the padding bits.
func (a *Allocator) Trash() {
	for i := range a.classes {
		c := &a.classes[i]
		clear(c.bits)
		if pad := padding(c.slots); pad != 0 {
			c.bits[len(c.bits)-1] = pad
		}
		c.hint = 0
		c.used = 0
	}
	a.used = 0
}

// Contains reports whether p lies in this allocator's block.
func (a *Allocator) Contains(p osheap.Ptr) bool { return a.region.Contains(p) }

// Region returns the backing block.
func (a *Allocator) Region() osheap.Region { return a.region }

// UsedBytes returns the bytes held by live slots.
func (a *Allocator) UsedBytes() int { return a.used }

// SlotSize returns the size of the live slot at p.
func (a *Allocator) SlotSize(p osheap.Ptr) (int, bool) {
	c, _, ok := a.locate(p)
	if !ok {
		return 0, false
	}
	return c.size, true
}

// Bytes returns a view of the first n bytes of the live slot at p.
func (a *Allocator) Bytes(p osheap.Ptr, n int) ([]byte, bool) {
	c, _, ok := a.locate(p)
	if !ok || n > c.size {
		return nil, false
	}
	return buf.Slice(a.region.Data, a.region.Offset(p), n)
}

func (a *Allocator) mustBytes(p osheap.Ptr, n int) []byte {
	b, ok := buf.Slice(a.region.Data, a.region.Offset(p), n)
	if !ok {
		panic(errors.AssertionFailedf("small: %d bytes at 0x%X outside the block", n, uint64(p)))
	}
	return b
}

// ClassInfo summarizes one size class.
type ClassInfo struct {
	Size  int
	Slots int
	Used  int
}

// Classes returns a snapshot of every class.
func (a *Allocator) Classes() []ClassInfo {
	out := make([]ClassInfo, NumClasses)
	for i := range a.classes {
		c := &a.classes[i]
		out[i] = ClassInfo{Size: c.size, Slots: c.slots, Used: c.used}
	}
	return out
}

// Walk calls fn for every live slot in address order until fn returns false.
func (a *Allocator) Walk(fn func(p osheap.Ptr, size int) bool) {
	for i := range a.classes {
		c := &a.classes[i]
		for idx := 0; idx < c.slots; idx++ {
			if c.bits[idx/wordBits]&(1<<uint(idx%wordBits)) == 0 {
				continue
			}
			if !fn(a.slotPtr(c, idx), c.size) {
				return
			}
		}
	}
}
