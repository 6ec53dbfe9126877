package general

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

type liveAlloc struct {
	size int
	fill byte
}

func checkContents(t *testing.T, h *Heap, p osheap.Ptr, a liveAlloc) {
	t.Helper()
	b, ok := h.Bytes(p, a.size)
	require.True(t, ok, "allocation 0x%X lost", p)
	for i, v := range b {
		require.Equal(t, a.fill, v, "allocation 0x%X byte %d clobbered", p, i)
	}
}

func fill(t *testing.T, h *Heap, p osheap.Ptr, a liveAlloc) {
	t.Helper()
	b, ok := h.Bytes(p, a.size)
	require.True(t, ok)
	for i := range b {
		b[i] = a.fill
	}
}

// Test_Fuzz_RandomOps_GuardInvariants runs random alloc/free/realloc sequences
// and checks every invariant after each step.
func Test_Fuzz_RandomOps_GuardInvariants(t *testing.T) {
	configs := []struct {
		name string
		opts Options
	}{
		{"balanced-linear", Options{}},
		{"fine-sine", Options{SizeClasses: ConfigFineGrained, AddressHash: HashSine}},
		{"coarse-budget", Options{SizeClasses: ConfigCoarse, ProbeBudget: 2}},
	}
	for _, cfg := range configs {
		t.Run(cfg.name, func(t *testing.T) {
			h := newTestHeap(t, 64<<10, cfg.opts)
			rng := rand.New(rand.NewSource(42)) // Fixed seed for reproducibility
			live := make(map[osheap.Ptr]liveAlloc)
			var order []osheap.Ptr

			pick := func() (osheap.Ptr, int) {
				for {
					i := rng.Intn(len(order))
					if _, ok := live[order[i]]; ok {
						return order[i], i
					}
					order = append(order[:i], order[i+1:]...)
				}
			}

			for step := 0; step < 3000; step++ {
				op := rng.Intn(10)
				switch {
				case op < 5 || len(live) == 0:
					size := rng.Intn(1500)
					align := layout.MinAlign
					if rng.Intn(3) == 0 {
						align = layout.DoubleAlign
					}
					p, ok := h.Alloc(size, align)
					if !ok {
						continue
					}
					require.True(t, layout.IsAligned(uint64(p), uint64(align)), "step %d: 0x%X", step, p)
					a := liveAlloc{size: size, fill: byte(step)}
					fill(t, h, p, a)
					live[p] = a
					order = append(order, p)

				case op < 8:
					p, _ := pick()
					checkContents(t, h, p, live[p])
					require.True(t, h.Free(p), "step %d", step)
					delete(live, p)

				default:
					p, _ := pick()
					old := live[p]
					checkContents(t, h, p, old)
					n := rng.Intn(2000)
					np, _, ok := h.ReAlloc(p, n)
					if !ok {
						checkContents(t, h, p, old)
						continue
					}
					kept := liveAlloc{size: min(old.size, n), fill: old.fill}
					checkContents(t, h, np, kept)
					delete(live, p)
					a := liveAlloc{size: n, fill: byte(step)}
					fill(t, h, np, a)
					live[np] = a
					order = append(order, np)
				}

				require.NoError(t, h.Verify(), "step %d", step)
				require.Equal(t, h.Size(), h.AllocatedBytes()+h.HeaderBytes()+h.FreeBytes(), "step %d", step)
			}

			for p, a := range live {
				checkContents(t, h, p, a)
				require.True(t, h.Free(p))
			}
			assertInvariants(t, h)
			require.True(t, h.IsEmpty(nil))
			require.Equal(t, [][2]int{{0, h.Size()}}, freeSpans(h))
		})
	}
}

// Test_Fuzz_NoOverlap checks that live payloads never overlap.
func Test_Fuzz_NoOverlap(t *testing.T) {
	h := newTestHeap(t, 32<<10, Options{AddressHash: HashSine})
	rng := rand.New(rand.NewSource(7))
	type span struct{ lo, hi osheap.Ptr }
	live := map[osheap.Ptr]span{}

	for step := 0; step < 500; step++ {
		if rng.Intn(3) > 0 {
			n := 1 + rng.Intn(600)
			if p, ok := h.Alloc(n, layout.MinAlign); ok {
				a, _ := h.Lookup(p)
				live[p] = span{p, p + osheap.Ptr(a.Size)}
			}
		} else {
			for p := range live {
				require.True(t, h.Free(p))
				delete(live, p)
				break
			}
		}
	}
	for p, s := range live {
		for q, o := range live {
			if p == q {
				continue
			}
			require.False(t, s.lo < o.hi && o.lo < s.hi, "0x%X overlaps 0x%X", p, q)
		}
	}
}
