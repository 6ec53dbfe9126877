package osheap

import (
	"sync"

	"go.uber.org/zap"

	"github.com/joshuapare/heapkit/internal/layout"
	"github.com/joshuapare/heapkit/internal/logger"
)

// mapping keeps the slice exactly as the backend returned it; unmapping needs
// the original length and capacity.
type mapping struct {
	data    []byte
	backend Backend
}

// Shim hands out backing blocks from a primary backend, falling back to a
// second backend when the first fails. All methods are serialized by one mutex.
type Shim struct {
	mu       sync.Mutex
	primary  Backend
	fallback Backend
	next     Ptr
	regions  map[Ptr]mapping
	mapped   int
	log      *zap.Logger
}

// Option configures a Shim.
type Option func(*Shim)

// WithLogger sets the logger used for backend failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Shim) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a shim over primary with an optional fallback.
// A nil primary selects the Go-heap backend.
func New(primary, fallback Backend, opts ...Option) *Shim {
	if primary == nil {
		primary = GoBackend()
	}
	s := &Shim{
		primary:  primary,
		fallback: fallback,
		next:     Granule,
		regions:  make(map[Ptr]mapping),
		log:      logger.L.Named("osheap"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Default returns a shim over the platform's preferred backends.
func Default(opts ...Option) *Shim {
	primary, fallback := platformBackends()
	return New(primary, fallback, opts...)
}

// Alloc maps a block of size bytes. It returns ok = false when every backend fails.
func (s *Shim) Alloc(size int) (Region, bool) {
	if size <= 0 {
		return Region{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, backend, ok := s.mapLocked(size)
	if !ok {
		return Region{}, false
	}

	base := s.next
	s.next += Ptr(layout.AlignUp64(uint64(size), Granule)) + Granule
	s.regions[base] = mapping{data: data, backend: backend}
	s.mapped += len(data)
	data = data[:size:size]

	s.log.Debug("mapped block",
		zap.String("backend", backend.Name()),
		zap.Uint64("base", uint64(base)),
		zap.Int("size", size))
	return Region{Base: base, Data: data}, true
}

func (s *Shim) mapLocked(size int) ([]byte, Backend, bool) {
	data, err := s.primary.Map(size)
	if err == nil {
		return data, s.primary, true
	}
	s.log.Warn("map failed", zap.String("backend", s.primary.Name()), zap.Int("size", size), zap.Error(err))
	if s.fallback == nil {
		return nil, nil, false
	}
	data, err = s.fallback.Map(size)
	if err != nil {
		s.log.Warn("fallback map failed", zap.String("backend", s.fallback.Name()), zap.Int("size", size), zap.Error(err))
		return nil, nil, false
	}
	return data, s.fallback, true
}

// Free unmaps the block whose base is base. It returns false for unknown bases
// and when the backend reports an unmap failure.
func (s *Shim) Free(base Ptr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.regions[base]
	if !ok {
		return false
	}
	delete(s.regions, base)
	s.mapped -= len(m.data)

	if err := m.backend.Unmap(m.data); err != nil {
		s.log.Error("unmap failed", zap.String("backend", m.backend.Name()), zap.Uint64("base", uint64(base)), zap.Error(err))
		return false
	}
	return true
}

// Mapped returns the number of bytes currently mapped.
func (s *Shim) Mapped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapped
}

// Blocks returns the number of live blocks.
func (s *Shim) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regions)
}
