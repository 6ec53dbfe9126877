package stdalloc

import (
	"go.uber.org/zap"

	"github.com/joshuapare/heapkit/stdalloc/osheap"
)

// Option configures an Allocator beyond its Config.
type Option func(*Allocator)

// WithLogger sets the logger. The default is logger.L named "stdalloc".
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics reports allocator activity to m.
func WithMetrics(m *Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

// WithHeap replaces the OS heap shim built from Config.Backend.
func WithHeap(h osheap.Heap) Option {
	return func(a *Allocator) {
		if h != nil {
			a.os = h
		}
	}
}
