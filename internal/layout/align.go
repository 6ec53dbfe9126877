package layout

// AlignUp returns n rounded up to a multiple of align, which must be a power of two.
//
// Example:
//
//	AlignUp(1, 16)  = 16
//	AlignUp(16, 16) = 16
//	AlignUp(17, 32) = 32
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// AlignUp64 is AlignUp for uint64 sizes and addresses.
func AlignUp64(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Units returns the number of 16-byte units needed to hold size bytes.
// Size 0 is treated as 1 so that no zero-byte allocation exists. When double is
// set the count is rounded to an even number, keeping the allocation's end on a
// DoubleAlign boundary.
func Units(size int, double bool) uint32 {
	if size <= 0 {
		size = 1
	}
	u := uint32((size + UnitSize - 1) >> UnitShift)
	if double {
		u = (u + 1) &^ 1
	}
	return u
}

// ClassOf reports whether align selects the double class. Alignments of 0 select
// MinAlign; anything other than 0, 1..16 or 32 is rejected with ok = false.
func ClassOf(align int) (double bool, ok bool) {
	switch {
	case align <= MinAlign && align >= 0 && (align == 0 || align&(align-1) == 0):
		return false, true
	case align == DoubleAlign:
		return true, true
	default:
		return false, false
	}
}

// IsAligned reports whether addr is a multiple of align.
func IsAligned(addr uint64, align uint64) bool {
	return addr&(align-1) == 0
}
