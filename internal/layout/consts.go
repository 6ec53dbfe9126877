// Package layout defines the on-arena header layout used by the general heap
// and the alignment arithmetic shared by every sub-allocator.
package layout

// Alignment classes.
const (
	MinAlign    = 16 // every pointer handed out is at least 16-byte aligned
	DoubleAlign = 32 // the only larger class that is supported
)

// General heap block layout. Every block starts on a MinAlign boundary and every
// block size is a multiple of UnitSize.
const (
	UnitSize     = 16
	UnitShift    = 4
	HeaderSize   = 16 // allocation and free headers share one size
	MinFreeBlock = HeaderSize + UnitSize
	MaxBlockSize = 0x7FFFFFF0
	MaxUnits     = (MaxBlockSize - HeaderSize) / UnitSize

	// NilOffset terminates every offset-linked list.
	NilOffset uint32 = 0xFFFFFFFF
)

// Field offsets within a free header.
const (
	FreePrevOffset     = 0x00 // previous free block, lower address
	FreeNextOffset     = 0x04 // next free block, higher address
	FreeHashNextOffset = 0x08 // next free block in the same size bucket
	FreeSizeOffset     = 0x0C // total block size in bytes, header included
)

// Field offsets within an allocation header.
const (
	AllocPrevFreeOffset = 0x00 // nearest free block at a lower address
	AllocNextOffset     = 0x04 // next allocation in address order
	AllocHashNextOffset = 0x08 // next allocation in the same address bucket
	AllocPackedOffset   = 0x0C // units<<1 | double flag
)

// Masks for the packed size word.
const (
	packedDoubleFlag uint32 = 0x1
	packedUnitsMask  uint32 = 0x7FFFFFFF
)
