package layout

import "encoding/binary"

// PutU32 writes v at off in little-endian order.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// ReadU32 reads a little-endian uint32 at off.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// PackSize encodes a payload size in units plus the double-alignment flag.
// Units above 31 bits are truncated; callers bound them by MaxUnits first.
func PackSize(units uint32, double bool) uint32 {
	v := (units & packedUnitsMask) << 1
	if double {
		v |= packedDoubleFlag
	}
	return v
}

// UnpackSize is the inverse of PackSize.
func UnpackSize(v uint32) (units uint32, double bool) {
	return v >> 1, v&packedDoubleFlag != 0
}

// Footprint returns the full size of an allocation of the given units, header included.
func Footprint(units uint32) uint32 {
	return HeaderSize + units<<UnitShift
}

// FreeHeader is a decoded free block header.
type FreeHeader struct {
	Prev     uint32
	Next     uint32
	HashNext uint32
	Size     uint32
}

// DecodeFree reads the free header at off.
func DecodeFree(b []byte, off uint32) FreeHeader {
	o := int(off)
	return FreeHeader{
		Prev:     ReadU32(b, o+FreePrevOffset),
		Next:     ReadU32(b, o+FreeNextOffset),
		HashNext: ReadU32(b, o+FreeHashNextOffset),
		Size:     ReadU32(b, o+FreeSizeOffset),
	}
}

// EncodeFree writes h at off.
func EncodeFree(b []byte, off uint32, h FreeHeader) {
	o := int(off)
	PutU32(b, o+FreePrevOffset, h.Prev)
	PutU32(b, o+FreeNextOffset, h.Next)
	PutU32(b, o+FreeHashNextOffset, h.HashNext)
	PutU32(b, o+FreeSizeOffset, h.Size)
}

// AllocHeader is a decoded allocation header.
type AllocHeader struct {
	PrevFree uint32
	Next     uint32
	HashNext uint32
	Units    uint32
	Double   bool
}

// Footprint returns the block size covered by the allocation.
func (h AllocHeader) Footprint() uint32 { return Footprint(h.Units) }

// DecodeAlloc reads the allocation header at off.
func DecodeAlloc(b []byte, off uint32) AllocHeader {
	o := int(off)
	units, double := UnpackSize(ReadU32(b, o+AllocPackedOffset))
	return AllocHeader{
		PrevFree: ReadU32(b, o+AllocPrevFreeOffset),
		Next:     ReadU32(b, o+AllocNextOffset),
		HashNext: ReadU32(b, o+AllocHashNextOffset),
		Units:    units,
		Double:   double,
	}
}

// EncodeAlloc writes h at off.
func EncodeAlloc(b []byte, off uint32, h AllocHeader) {
	o := int(off)
	PutU32(b, o+AllocPrevFreeOffset, h.PrevFree)
	PutU32(b, o+AllocNextOffset, h.Next)
	PutU32(b, o+AllocHashNextOffset, h.HashNext)
	PutU32(b, o+AllocPackedOffset, PackSize(h.Units, h.Double))
}
