package stdalloc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "heapkit")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.InitialSize = 4096
	a := newTestAllocator(t, cfg, WithMetrics(m))

	p := mustAlloc(t, a, 100, MinAlign)
	mustAlloc(t, a, 100_000, MinAlign)
	_, err = a.Alloc(8, 3)
	require.ErrorIs(t, err, ErrBadAlign)
	require.NoError(t, a.Free(p))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Ops.WithLabelValues("alloc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("alloc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ops.WithLabelValues("free")))
	assert.Equal(t, 100_100.0, testutil.ToFloat64(m.AllocBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Grows), "one small block and one general block")
	assert.Equal(t, float64(a.GetTotalAllocatedSize()), testutil.ToFloat64(m.InuseBytes))
	assert.Equal(t, float64(a.Stats().BackingBytes), testutil.ToFloat64(m.BackingBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackingBlocks.WithLabelValues("general")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackingBlocks.WithLabelValues("small")))

	assert.Equal(t, 1, a.ReleaseEmptyHeaps())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Releases))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackingBlocks.WithLabelValues("small")))
}

func Test_Metrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg, "heapkit")
	require.NoError(t, err)
	_, err = NewMetrics(reg, "heapkit")
	require.Error(t, err)

	m, err := NewMetrics(nil, "heapkit")
	require.NoError(t, err)
	require.NotNil(t, m)
}

func Test_Metrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.op("alloc", false)
	m.allocated(10)
	m.grew()
	m.released(1)
	m.observe(1, 2, 3, 4)
}
