//go:build unix

package osheap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func Test_Backends_Unix(t *testing.T) {
	for _, b := range []Backend{MmapBackend(), FileMapBackend(t.TempDir())} {
		t.Run(b.Name(), func(t *testing.T) {
			s := New(b, nil)
			r, ok := s.Alloc(3 * 4096)
			require.True(t, ok)
			require.Len(t, r.Data, 3*4096)

			for i := range r.Data {
				r.Data[i] = byte(i)
			}
			for i := range r.Data {
				require.Equal(t, byte(i), r.Data[i])
			}
			require.True(t, s.Free(r.Base))
		})
	}
}

func Test_BackendByName_Unix(t *testing.T) {
	for _, name := range []string{"mmap", "filemap"} {
		p, f, err := BackendByName(name)
		require.NoError(t, err)
		require.Equal(t, name, p.Name())
		require.Nil(t, f)
	}
}

func Test_Backends_Unix_Errors(t *testing.T) {
	_, err := FileMapBackend(filepath.Join(t.TempDir(), "missing")).Map(4096)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "%v", err)
	assert.Contains(t, err.Error(), "filemap: create")

	_, err = MmapBackend().Map(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, unix.EINVAL), "%v", err)
	assert.Contains(t, err.Error(), "mmap: 0 bytes")

	require.NoError(t, munmap(nil))
}
