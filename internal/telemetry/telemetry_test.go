package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/testutil/teststore"
	"github.com/steveyegge/prdledger/internal/types"
)

func TestWrapStorageDisabled(t *testing.T) {
	t.Setenv("PRD_OTEL_ENABLED", "")
	env := teststore.New(t)
	assert.Same(t, storage.Storage(env.Store), WrapStorage(env.Store))
	require.NoError(t, Init(context.Background(), "prd", "test"))
}

func TestWrapStorageEnabled(t *testing.T) {
	t.Setenv("PRD_OTEL_ENABLED", "true")
	env := teststore.New(t)
	wrapped := WrapStorage(env.Store)
	_, ok := wrapped.(*InstrumentedStorage)
	assert.True(t, ok)
	assert.Equal(t, env.Layout, wrapped.Layout())
}

func sumFor(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestInstrumentedStorageRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	env := teststore.New(t)
	env.AddPRD("prd_001", types.StatusPending)
	s := newInstrumented(env.Store)
	ctx := context.Background()

	prds, err := s.LoadPRDs(ctx)
	require.NoError(t, err)
	assert.Len(t, prds.PRDs, 1)

	require.NoError(t, s.UpdatePRDs(ctx, func(*types.PRDCollection) error { return storage.ErrNoChange }))
	boom := errors.New("boom")
	require.ErrorIs(t, s.UpdatePRDs(ctx, func(*types.PRDCollection) error { return boom }), boom)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(3), sumFor(rm, "prd.storage.operations"))
	assert.Equal(t, int64(1), sumFor(rm, "prd.storage.errors"))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}
