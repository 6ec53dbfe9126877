package stdalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/stdalloc/osheap"
	"github.com/joshuapare/heapkit/stdalloc/small"
)

// testConfig keeps blocks small so growth paths are cheap to reach.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialSize = 64 << 10
	cfg.MinGrowSize = 64 << 10
	cfg.SmallBlockSize = 4 * small.MinBlockSize
	cfg.Backend = "go"
	return cfg
}

func newTestAllocator(t *testing.T, cfg Config, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	return a
}

func mustAlloc(t *testing.T, a *Allocator, size, align int) Ptr {
	t.Helper()
	p, err := a.Alloc(size, align)
	require.NoError(t, err, "Alloc(%d, %d)", size, align)
	require.NotZero(t, p)
	return p
}

func fill(t *testing.T, a *Allocator, p Ptr, n int, seed byte) {
	t.Helper()
	b, err := a.Bytes(p, n)
	require.NoError(t, err)
	for i := range b {
		b[i] = seed + byte(i)
	}
}

func requireFilled(t *testing.T, a *Allocator, p Ptr, n int, seed byte) {
	t.Helper()
	b, err := a.Bytes(p, n)
	require.NoError(t, err)
	for i := range b {
		if b[i] != seed+byte(i) {
			t.Fatalf("byte %d at 0x%X = %d, want %d", i, uint64(p), b[i], seed+byte(i))
		}
	}
}

// limitHeap refuses blocks larger than limit.
type limitHeap struct {
	*osheap.Shim
	limit   int
	refused []int
}

func newLimitHeap(limit int) *limitHeap {
	return &limitHeap{Shim: osheap.New(osheap.GoBackend(), nil), limit: limit}
}

func (h *limitHeap) Alloc(size int) (osheap.Region, bool) {
	if size > h.limit {
		h.refused = append(h.refused, size)
		return osheap.Region{}, false
	}
	return h.Shim.Alloc(size)
}

// refuseOnceHeap refuses the first request for exactly size bytes.
type refuseOnceHeap struct {
	*osheap.Shim
	size    int
	refused bool
}

func newRefuseOnceHeap(size int) *refuseOnceHeap {
	return &refuseOnceHeap{Shim: osheap.New(osheap.GoBackend(), nil), size: size}
}

func (h *refuseOnceHeap) Alloc(size int) (osheap.Region, bool) {
	if size == h.size && !h.refused {
		h.refused = true
		return osheap.Region{}, false
	}
	return h.Shim.Alloc(size)
}
