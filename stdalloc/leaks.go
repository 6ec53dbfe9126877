package stdalloc

import (
	"go.uber.org/zap"

	"github.com/joshuapare/heapkit/stdalloc/general"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
	"github.com/joshuapare/heapkit/stdalloc/small"
)

// trackAdd must be called directly from an exported method so the recorded
// origin is that method's caller.
func (a *Allocator) trackAdd(p Ptr, size int) {
	if a.tracker == nil {
		return
	}
	a.tracker.Add(p, size, 2)
}

func (a *Allocator) allocationFields(p Ptr, size int) []zap.Field {
	fields := []zap.Field{
		zap.Uint64("ptr", uint64(p)),
		zap.Int("size", size),
	}
	if a.tracker == nil {
		return fields
	}
	if r, ok := a.tracker.Lookup(p); ok {
		fields = append(fields,
			zap.Uint64("seq", r.Seq),
			zap.String("file", r.File),
			zap.Int("line", r.Line),
			zap.Int("requested", r.Size))
	}
	return fields
}

// leakReporter returns the per-allocation callback for general.Heap.IsEmpty,
// or nil outside debug and tracking configurations.
func (a *Allocator) leakReporter() func(general.Allocation) {
	if !a.cfg.Debug && a.tracker == nil {
		return nil
	}
	return func(al general.Allocation) {
		a.log.Warn("leaked allocation", a.allocationFields(al.Ptr, al.Size)...)
	}
}

func (a *Allocator) reportSmall(s *small.Allocator) {
	if !a.cfg.Debug && a.tracker == nil {
		return
	}
	s.Walk(func(p osheap.Ptr, size int) bool {
		a.log.Warn("leaked allocation", a.allocationFields(p, size)...)
		return true
	})
}

// PrintAllocations logs the live allocations whose sequence number lies in
// [from, to] and returns the bytes they requested. It returns 0 when
// allocation tracking is off.
func (a *Allocator) PrintAllocations(from, to uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tracker == nil {
		return 0
	}
	total := 0
	for _, r := range a.tracker.Range(from, to) {
		a.log.Info("live allocation",
			zap.Uint64("seq", r.Seq),
			zap.String("file", r.File),
			zap.Int("line", r.Line),
			zap.Int("size", r.Size),
			zap.Uint64("ptr", uint64(r.Ptr)))
		total += r.Size
	}
	return total
}
