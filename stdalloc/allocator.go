package stdalloc

import (
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/stdalloc/general"
	"github.com/joshuapare/heapkit/stdalloc/osheap"
	"github.com/joshuapare/heapkit/stdalloc/small"
	"github.com/joshuapare/heapkit/stdalloc/track"
)

// Ptr is an address handed out by the allocator. Zero is the null pointer.
type Ptr = osheap.Ptr

const (
	// MinAlign is the alignment of every returned pointer.
	MinAlign = layout.MinAlign
	// DoubleAlign is the only larger alignment class.
	DoubleAlign = layout.DoubleAlign
	// SmallMax is the largest request the small chain serves.
	SmallMax = small.MaxSize

	// doubleLead is the free block left in front of a double-aligned header
	// carved from the start of a fresh block.
	doubleLead = layout.MinFreeBlock + layout.UnitSize

	maxGrowSize = layout.MaxBlockSize &^ (osheap.Granule - 1)
)

// Allocator chains small-object blocks and general heap blocks into one
// growable heap. All methods are safe for concurrent use; one mutex is held
// for the whole of every call.
type Allocator struct {
	mu sync.Mutex

	cfg     Config
	hopts   general.Options
	os      osheap.Heap
	log     *zap.Logger
	metrics *Metrics

	smalls   []*small.Allocator
	generals []*general.Heap // generals[0] is the initial block
	low      Ptr             // lowest block base
	high     Ptr             // highest block end
	ready    bool

	tracker *track.Table // nil unless TrackAllocations
	stats   Stats
}

// New validates cfg and maps the initial general block.
func New(cfg Config, opts ...Option) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hopts, err := cfg.heapOptions()
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		cfg:   cfg,
		hopts: hopts,
		log:   logger.L.Named("stdalloc"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.os == nil {
		primary, fallback, err := osheap.BackendByName(cfg.Backend)
		if err != nil {
			return nil, configError(err)
		}
		a.os = osheap.New(primary, fallback, osheap.WithLogger(a.log.Named("osheap")))
	}
	if cfg.TrackAllocations {
		a.tracker = track.New()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initLocked(); err != nil {
		return nil, err
	}
	a.observe()
	return a, nil
}

func (a *Allocator) initLocked() error {
	r, ok := a.os.Alloc(a.cfg.InitialSize)
	if !ok {
		return errors.Wrapf(ErrNoSpace, "initial block of %d bytes", a.cfg.InitialSize)
	}
	h, err := general.New(r, a.hopts)
	if err != nil {
		a.os.Free(r.Base)
		return err
	}
	a.generals = append(a.generals[:0], h)
	a.updateBounds()
	a.ready = true
	a.log.Debug("initial block",
		zap.Uint64("base", uint64(r.Base)),
		zap.Int("size", r.Len()))
	return nil
}

// smallEnabled reports whether requests may use the small chain. A fixed heap
// keeps all of InitialSize in its one general block and never maps small blocks.
func (a *Allocator) smallEnabled() bool {
	return !a.cfg.StrictDebug && a.cfg.Growable && a.cfg.SmallBlockSize > 0
}

// Alloc returns size bytes aligned to align (0, MinAlign or DoubleAlign).
// Requests up to SmallMax try the small chain first.
func (a *Allocator) Alloc(size, align int) (Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.AllocCalls++
	p, err := a.allocLocked(size, align)
	if err == nil {
		a.trackAdd(p, size)
		a.metrics.allocated(size)
	}
	a.finish("alloc", err)
	return p, err
}

// CAlloc is Alloc followed by zeroing the first size bytes.
func (a *Allocator) CAlloc(size, align int) (Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.AllocCalls++
	p, err := a.allocLocked(size, align)
	if err == nil {
		b, _ := a.bytesLocked(p, max(size, 0))
		clear(b)
		a.trackAdd(p, size)
		a.metrics.allocated(size)
	}
	a.finish("calloc", err)
	return p, err
}

func (a *Allocator) allocLocked(size, align int) (Ptr, error) {
	if size < 0 {
		return 0, errors.Wrapf(ErrNoSpace, "negative size %d", size)
	}
	double, ok := layout.ClassOf(align)
	if !ok {
		return 0, errors.Wrapf(ErrBadAlign, "%d", align)
	}
	if !a.ready {
		if err := a.initLocked(); err != nil {
			return 0, err
		}
	}

	// Not under StrictDebug or on a non-growable heap.
	if size <= small.MaxSize && a.smallEnabled() {
		if p, ok := a.allocSmall(size, align); ok {
			a.stats.SmallAllocs++
			return p, nil
		}
	}
	for _, h := range a.generals {
		if p, ok := h.Alloc(size, align); ok {
			a.stats.GeneralAllocs++
			return p, nil
		}
	}
	if !a.cfg.Growable {
		return 0, errors.Wrapf(ErrNoSpace, "%d bytes, heap is not growable", size)
	}

	h, err := a.growGeneral(size, double)
	if err != nil {
		return 0, err
	}
	p, ok := h.Alloc(size, align)
	if !ok {
		return 0, errors.Wrapf(ErrNoSpace, "%d bytes after growth", size)
	}
	a.stats.GeneralAllocs++
	return p, nil
}

func (a *Allocator) allocSmall(size, align int) (Ptr, bool) {
	for _, s := range a.smalls {
		if p, ok := s.Alloc(size, align); ok {
			return p, true
		}
	}
	s, ok := a.growSmall()
	if !ok {
		return 0, false
	}
	return s.Alloc(size, align)
}

func (a *Allocator) growSmall() (*small.Allocator, bool) {
	r, ok := a.os.Alloc(a.cfg.SmallBlockSize)
	if !ok {
		a.stats.GrowFailures++
		a.log.Warn("small block refused by os heap", zap.Int("size", a.cfg.SmallBlockSize))
		return nil, false
	}
	s, err := small.New(r)
	if err != nil {
		a.os.Free(r.Base)
		a.log.Warn("small block rejected", zap.Error(err))
		return nil, false
	}
	a.smalls = append(a.smalls, s)
	a.grew("small", r)
	return s, true
}

// growGeneral adds a general block able to hold size bytes. The first attempt
// is max(2*need, MinGrowSize); each OS failure halves it, down to the smallest
// block that still fits the request.
func (a *Allocator) growGeneral(size int, double bool) (*general.Heap, error) {
	if size > layout.MaxBlockSize {
		return nil, errors.Wrapf(ErrNoSpace, "%d bytes exceeds block limit", size)
	}
	need := int(layout.Footprint(layout.Units(size, double)))
	if double {
		need += doubleLead
	}
	minSize := layout.AlignUp(need, osheap.Granule)
	if minSize > maxGrowSize {
		return nil, errors.Wrapf(ErrNoSpace, "%d bytes exceeds block limit", size)
	}
	grow := min(layout.AlignUp(max(2*need, a.cfg.MinGrowSize), osheap.Granule), maxGrowSize)

	for {
		r, ok := a.os.Alloc(grow)
		if ok {
			h, err := general.New(r, a.hopts)
			if err != nil {
				a.os.Free(r.Base)
				return nil, err
			}
			a.generals = append(a.generals, h)
			a.grew("general", r)
			return h, nil
		}
		a.stats.GrowFailures++
		a.log.Warn("general block refused by os heap",
			zap.Int("size", grow),
			zap.Int("min", minSize))
		if grow == minSize {
			return nil, errors.Wrapf(ErrNoSpace, "os heap refused %d bytes", minSize)
		}
		grow = max((grow/2)&^(osheap.Granule-1), minSize)
	}
}

func (a *Allocator) grew(chain string, r osheap.Region) {
	a.updateBounds()
	a.stats.Grows++
	a.stats.GrowBytes += r.Len()
	a.metrics.grew()

	fields := []zap.Field{
		zap.String("chain", chain),
		zap.Uint64("base", uint64(r.Base)),
		zap.Int("size", r.Len()),
		zap.Int("small_blocks", len(a.smalls)),
		zap.Int("general_blocks", len(a.generals)),
	}
	if logAlloc {
		a.log.Info("grew heap", fields...)
	} else {
		a.log.Debug("grew heap", fields...)
	}
}

// Free releases p. Freeing the null pointer is a no-op.
func (a *Allocator) Free(p Ptr) error {
	if p == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.FreeCalls++
	err := a.freeLocked(p)
	if err == nil && a.tracker != nil {
		a.tracker.Remove(p)
	}
	a.finish("free", err)
	return err
}

func (a *Allocator) freeLocked(p Ptr) error {
	if p < a.low || p >= a.high {
		return errors.Wrapf(ErrBadPtr, "0x%X outside [0x%X, 0x%X)", uint64(p), uint64(a.low), uint64(a.high))
	}
	if s := a.smallOwner(p); s != nil {
		if !s.Free(p) {
			return errors.Wrapf(ErrBadPtr, "0x%X is not a live small slot", uint64(p))
		}
		return nil
	}
	if h := a.generalOwner(p); h != nil {
		if !h.Free(p) {
			return errors.Wrapf(ErrBadPtr, "0x%X is not a live allocation", uint64(p))
		}
		return nil
	}
	return errors.Wrapf(ErrBadPtr, "0x%X", uint64(p))
}

// ReAlloc resizes p to n bytes, moving it when it cannot be resized in place.
// ReAlloc(0, n) allocates; ReAlloc(p, 0) frees p and returns 0. On failure p
// is left untouched.
func (a *Allocator) ReAlloc(p Ptr, n int) (Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.ReAllocCalls++
	var (
		np  Ptr
		err error
	)
	switch {
	case p == 0:
		np, err = a.allocLocked(n, MinAlign)
		if err == nil {
			a.trackAdd(np, n)
			a.metrics.allocated(n)
		}
	case n == 0:
		err = a.freeLocked(p)
		if err == nil && a.tracker != nil {
			a.tracker.Remove(p)
		}
	default:
		np, err = a.reallocLocked(p, n)
		if err == nil && a.tracker != nil {
			a.tracker.Move(p, np, n)
		}
	}
	a.finish("realloc", err)
	return np, err
}

func (a *Allocator) reallocLocked(p Ptr, n int) (Ptr, error) {
	if n < 0 {
		return 0, errors.Wrapf(ErrNoSpace, "negative size %d", n)
	}
	if p < a.low || p >= a.high {
		return 0, errors.Wrapf(ErrBadPtr, "0x%X", uint64(p))
	}

	if s := a.smallOwner(p); s != nil {
		oldSize, ok := s.SlotSize(p)
		if !ok {
			return 0, errors.Wrapf(ErrBadPtr, "0x%X is not a live small slot", uint64(p))
		}
		if n <= small.MaxSize {
			if np, _, ok := s.ReAlloc(p, n); ok {
				return np, nil
			}
		}
		return a.moveLocked(p, oldSize, n)
	}

	if h := a.generalOwner(p); h != nil {
		np, old, ok := h.ReAlloc(p, n)
		if ok {
			return np, nil
		}
		if old.Ptr == 0 {
			return 0, errors.Wrapf(ErrBadPtr, "0x%X is not a live allocation", uint64(p))
		}
		return a.moveLocked(p, old.Size, n)
	}
	return 0, errors.Wrapf(ErrBadPtr, "0x%X", uint64(p))
}

// moveLocked copies p into a fresh allocation anywhere in the heap. The
// alignment class is inferred from the address.
func (a *Allocator) moveLocked(p Ptr, oldSize, n int) (Ptr, error) {
	np, err := a.allocLocked(n, alignOf(p))
	if err != nil {
		return 0, err
	}
	keep := min(oldSize, n)
	dst, err := a.bytesLocked(np, keep)
	if err != nil {
		return 0, err
	}
	src, err := a.bytesLocked(p, keep)
	if err != nil {
		return 0, err
	}
	copy(dst, src)
	if err := a.freeLocked(p); err != nil {
		return 0, err
	}
	a.stats.CrossMoves++
	return np, nil
}

func alignOf(p Ptr) int {
	if layout.IsAligned(uint64(p), DoubleAlign) {
		return DoubleAlign
	}
	return MinAlign
}

func (a *Allocator) smallOwner(p Ptr) *small.Allocator {
	for _, s := range a.smalls {
		if s.Contains(p) {
			return s
		}
	}
	return nil
}

func (a *Allocator) generalOwner(p Ptr) *general.Heap {
	for _, h := range a.generals {
		if h.Contains(p) {
			return h
		}
	}
	return nil
}

// Bytes returns a view of the first n bytes at p. The view stays valid until p
// is freed or moved.
func (a *Allocator) Bytes(p Ptr, n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesLocked(p, n)
}

func (a *Allocator) bytesLocked(p Ptr, n int) ([]byte, error) {
	if s := a.smallOwner(p); s != nil {
		if b, ok := s.Bytes(p, n); ok {
			return b, nil
		}
	} else if h := a.generalOwner(p); h != nil {
		if b, ok := h.Bytes(p, n); ok {
			return b, nil
		}
	}
	return nil, errors.Wrapf(ErrBadPtr, "0x%X+%d", uint64(p), n)
}

// UsableSize returns the bytes usable at p, at least the size requested.
func (a *Allocator) UsableSize(p Ptr) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s := a.smallOwner(p); s != nil {
		if n, ok := s.SlotSize(p); ok {
			return n, nil
		}
	} else if h := a.generalOwner(p); h != nil {
		if al, ok := h.Lookup(p); ok {
			return al.Size, nil
		}
	}
	return 0, errors.Wrapf(ErrBadPtr, "0x%X", uint64(p))
}

// Clear returns every backing block to the OS. Blocks that still hold live
// allocations are released too, and reported in the returned error. The next
// allocation maps a fresh initial block.
func (a *Allocator) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	for _, s := range a.smalls {
		if !s.IsEmpty() {
			err = multierr.Append(err, errors.Wrapf(ErrNotEmpty,
				"small block 0x%X holds %d bytes", uint64(s.Region().Base), s.UsedBytes()))
			a.reportSmall(s)
		}
		a.release(s.Region())
	}
	for _, h := range a.generals {
		if !h.IsEmpty(a.leakReporter()) {
			err = multierr.Append(err, errors.Wrapf(ErrNotEmpty,
				"general block 0x%X holds %d allocations", uint64(h.Region().Base), h.LiveAllocations()))
		}
		a.release(h.Region())
	}
	a.smalls, a.generals = nil, nil
	a.low, a.high = 0, 0
	a.ready = false
	if a.tracker != nil {
		a.tracker.Reset()
	}
	a.observe()
	return err
}

// Trash forgets every allocation and keeps the backing blocks.
func (a *Allocator) Trash() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.smalls {
		s.Trash()
	}
	for _, h := range a.generals {
		h.Trash()
	}
	if a.tracker != nil {
		a.tracker.Reset()
	}
	a.observe()
}

// ReleaseEmptyHeaps returns every empty block to the OS except the initial
// general block, and reports how many were released.
func (a *Allocator) ReleaseEmptyHeaps() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	keptSmall := a.smalls[:0]
	for _, s := range a.smalls {
		if s.IsEmpty() {
			a.release(s.Region())
			n++
			continue
		}
		keptSmall = append(keptSmall, s)
	}
	clear(a.smalls[len(keptSmall):])
	a.smalls = keptSmall

	keptGeneral := a.generals[:0]
	for i, h := range a.generals {
		if i > 0 && h.IsEmpty(nil) {
			a.release(h.Region())
			n++
			continue
		}
		keptGeneral = append(keptGeneral, h)
	}
	clear(a.generals[len(keptGeneral):])
	a.generals = keptGeneral

	if n > 0 {
		a.updateBounds()
		a.stats.Releases += n
		a.metrics.released(n)
		a.log.Debug("released empty blocks", zap.Int("count", n))
	}
	a.observe()
	return n
}

func (a *Allocator) release(r osheap.Region) {
	if !a.os.Free(r.Base) {
		a.log.Warn("os heap did not know block", zap.Uint64("base", uint64(r.Base)))
	}
}

func (a *Allocator) updateBounds() {
	a.low, a.high = 0, 0
	first := true
	span := func(r osheap.Region) {
		if first || r.Base < a.low {
			a.low = r.Base
		}
		if first || r.End() > a.high {
			a.high = r.End()
		}
		first = false
	}
	for _, s := range a.smalls {
		span(s.Region())
	}
	for _, h := range a.generals {
		span(h.Region())
	}
}

// GetTotalAllocatedSize returns the bytes held by live allocations: slot sizes
// in small blocks and payload sizes in general blocks.
func (a *Allocator) GetTotalAllocatedSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocatedLocked()
}

func (a *Allocator) allocatedLocked() int {
	total := 0
	for _, s := range a.smalls {
		total += s.UsedBytes()
	}
	for _, h := range a.generals {
		total += h.AllocatedBytes()
	}
	return total
}

func (a *Allocator) backingLocked() int {
	total := 0
	for _, s := range a.smalls {
		total += s.Region().Len()
	}
	for _, h := range a.generals {
		total += h.Region().Len()
	}
	return total
}

// VerifyBlocks checks the invariants of every general block and returns the
// first violation found.
func (a *Allocator) VerifyBlocks() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifyLocked()
}

func (a *Allocator) verifyLocked() error {
	for _, h := range a.generals {
		if err := h.Verify(); err != nil {
			return errors.Wrapf(err, "block 0x%X", uint64(h.Region().Base))
		}
	}
	return nil
}

// finish runs after every mutating call.
func (a *Allocator) finish(op string, err error) {
	a.metrics.op(op, err == nil)
	a.observe()
	if a.cfg.Debug {
		if verr := a.verifyLocked(); verr != nil {
			a.log.Error("heap corrupted", zap.String("op", op), zap.Error(verr))
			panic(verr)
		}
	}
}

func (a *Allocator) observe() {
	if a.metrics == nil {
		return
	}
	a.metrics.observe(a.allocatedLocked(), a.backingLocked(), len(a.smalls), len(a.generals))
}
