package general

import (
	"math"

	"github.com/cockroachdb/errors"
)

// HashPolicy selects how allocation offsets map to address-hash buckets.
type HashPolicy int

const (
	// HashLinear assigns buckets proportionally to the offset in the block.
	HashLinear HashPolicy = iota
	// HashSine disperses the linear bucket with a table of |sin(i+1)| * 2^32,
	// so neighbouring allocations land in different buckets.
	HashSine
)

// ErrUnknownHashPolicy is returned by ParseHashPolicy.
var ErrUnknownHashPolicy = errors.New("general: unknown address hash policy")

// ParseHashPolicy accepts "linear" (or "") and "sine".
func ParseHashPolicy(s string) (HashPolicy, error) {
	switch s {
	case "", "linear":
		return HashLinear, nil
	case "sine":
		return HashSine, nil
	}
	return 0, errors.Wrapf(ErrUnknownHashPolicy, "%q", s)
}

func (p HashPolicy) String() string {
	switch p {
	case HashLinear:
		return "linear"
	case HashSine:
		return "sine"
	}
	return "unknown"
}

var sineTable = func() (t [64]uint32) {
	for i := range t {
		t[i] = uint32(uint64(math.Abs(math.Sin(float64(i+1))) * (1 << 32)))
	}
	return t
}()

const (
	minAddrBuckets = 16
	maxAddrBuckets = 1 << 16
	addrBucketSpan = 1 << 10 // block bytes per bucket
)

func addrBucketCount(size uint32) int {
	n := int(size / addrBucketSpan)
	return min(max(n, minAddrBuckets), maxAddrBuckets)
}

// addrBucket maps an allocation header offset to its bucket.
func (h *Heap) addrBucket(off uint32) int {
	n := uint64(len(h.addrHeads))
	lin := uint64(off) * n / uint64(h.size)
	if h.hash == HashSine {
		lin = (lin + uint64(sineTable[(off>>4)&63])) % n
	}
	return int(lin)
}
