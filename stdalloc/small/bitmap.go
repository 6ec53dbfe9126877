package small

const wordBits = 64

const fullWord = ^uint64(0)

// lowestClear returns the index of the lowest zero bit of w, which must not be
// all ones. The search halves the candidate window each step without branching:
// when the low half of the window is all ones the shift for that step is the
// half width, otherwise zero.
func lowestClear(w uint64) uint {
	x := ^w
	var n, s uint

	s = uint(((x&0xFFFFFFFF)-1)>>63) << 5
	n += s
	x >>= s
	s = uint(((x&0xFFFF)-1)>>63) << 4
	n += s
	x >>= s
	s = uint(((x&0xFF)-1)>>63) << 3
	n += s
	x >>= s
	s = uint(((x&0xF)-1)>>63) << 2
	n += s
	x >>= s
	s = uint(((x&0x3)-1)>>63) << 1
	n += s
	x >>= s
	n += uint(((x & 0x1) - 1) >> 63)
	return n
}

// padding returns the mask of bits past slots in the last word of a bitmap.
func padding(slots int) uint64 {
	r := slots % wordBits
	if r == 0 {
		return 0
	}
	return fullWord << uint(r)
}

func wordsFor(slots int) int {
	return (slots + wordBits - 1) / wordBits
}
