// Package buf contains overflow-checked offset arithmetic for views into backing blocks.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// MulOverflowSafe multiplies two non-negative ints, returning ok = false on overflow
// or when either operand is negative.
func MulOverflowSafe(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// CheckSpan validates that [offset, offset+size) lies within a block of blockLen
// bytes. Returns the end offset if valid.
//
//	end, err := buf.CheckSpan(len(data), off, n)
//	if err != nil {
//	    return fmt.Errorf("view: %w", err)
//	}
func CheckSpan(blockLen, offset, size int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset: %d", offset)
	}
	if size < 0 {
		return 0, fmt.Errorf("negative size: %d", size)
	}
	end, ok := AddOverflowSafe(offset, size)
	if !ok {
		return 0, fmt.Errorf("overflow: offset=%d + size=%d", offset, size)
	}
	if end > blockLen {
		return 0, fmt.Errorf("bounds: end=%d > len=%d", end, blockLen)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
// The returned slice has its capacity clipped to n so appends never spill
// into the neighbouring bytes of the block.
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n int) bool {
	_, ok := Slice(b, off, n)
	return ok
}
