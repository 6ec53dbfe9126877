//go:build unix

package osheap

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mmapBackend maps anonymous private memory.
type mmapBackend struct{}

// MmapBackend returns the anonymous-mapping backend.
func MmapBackend() Backend { return mmapBackend{} }

func (mmapBackend) Name() string { return "mmap" }

func (mmapBackend) Map(size int) ([]byte, error) {
	n := pageAlign(size)
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap: %d bytes", n)
	}
	return b, nil
}

func (mmapBackend) Unmap(b []byte) error {
	return munmap(b)
}

func pageAlign(size int) int {
	page := unix.Getpagesize()
	return (size + page - 1) &^ (page - 1)
}

func munmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	err := unix.Munmap(b)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
