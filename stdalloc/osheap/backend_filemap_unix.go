//go:build unix

package osheap

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// fileMapBackend backs blocks with an unlinked temporary file mapped shared. It
// keeps working when anonymous memory is exhausted but disk is not.
type fileMapBackend struct {
	dir string
}

// FileMapBackend returns a file-mapped backend creating its files in dir
// (os.TempDir when empty).
func FileMapBackend(dir string) Backend { return fileMapBackend{dir: dir} }

func (fileMapBackend) Name() string { return "filemap" }

func (b fileMapBackend) Map(size int) ([]byte, error) {
	f, err := os.CreateTemp(b.dir, "heapkit-*.map")
	if err != nil {
		return nil, errors.Wrap(err, "filemap: create")
	}
	defer f.Close() // safe before return; mapping keeps pages alive
	// The mapping outlives the directory entry.
	if err := os.Remove(f.Name()); err != nil {
		return nil, errors.Wrapf(err, "filemap: unlink %s", f.Name())
	}

	n := pageAlign(size)
	if err := f.Truncate(int64(n)); err != nil {
		return nil, errors.Wrapf(err, "filemap: truncate to %d", n)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "filemap: map %d bytes", n)
	}
	return data, nil
}

func (fileMapBackend) Unmap(b []byte) error {
	return munmap(b)
}
