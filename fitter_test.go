package ringfit

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nanalysis/ringfit/dataset"
	"github.com/nanalysis/ringfit/equation"
	"github.com/nanalysis/ringfit/errs"
)

var (
	readerOnce sync.Once
	reader     *sdkmetric.ManualReader
)

// metricReader installs a global meter provider backed by a manual reader.
// The global provider can only be delegated once, so every test shares it.
func metricReader() *sdkmetric.ManualReader {
	readerOnce.Do(func() {
		reader = sdkmetric.NewManualReader()
		otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	})

	return reader
}

// counter sums the data points of an int64 counter whose attributes contain kv.
func counter(t *testing.T, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader().Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(kv.Key); ok && v.Emit() == kv.Value.Emit() {
					total += dp.Value
				}
			}
		}
	}

	return total
}

func cpmgGroup(t *testing.T, name string, truth []float64, seed uint64) Group {
	t.Helper()
	c := simulated(t, equation.CPMGFast, truth, residue(name, 600), n15Field, [][]float64{grid(25, 1000, 25)}, 0.2, seed)

	return Group{Name: name, Curves: []*dataset.Curve{c}}
}

func TestFitter(t *testing.T) {
	groups := []Group{
		cpmgGroup(t, "A1", []float64{500, 10, 1.5}, 1),
		{Name: "empty"},
		cpmgGroup(t, "A3", []float64{900, 12, 1.2}, 2),
		cpmgGroup(t, "A4", []float64{700, 11, 1.4}, 3),
	}

	f, err := NewFitter([]string{equation.CPMGNoEx, equation.CPMGFast}, WithWorkers(3))
	require.NoError(t, err)

	t.Run("fits every group", func(t *testing.T) {
		rs, err := f.FitAll(context.Background(), groups)
		require.NoError(t, err)
		require.Len(t, rs, 3)

		want := []string{"A1", "A3", "A4"}
		for i, r := range rs {
			require.Equal(t, want[i], r.Name)
			require.Len(t, r.Results, 2)
			require.Equal(t, equation.CPMGFast, r.Best)
			require.True(t, r.ExchangeValid)
			require.Same(t, r.Results[r.Best], r.BestResult())
			_, err := uuid.Parse(r.RunID)
			require.NoError(t, err)
			require.Equal(t, rs[0].RunID, r.RunID)
		}
	})

	t.Run("group equations override", func(t *testing.T) {
		g := groups[0]
		g.Equations = []string{equation.CPMGNoEx}
		rs, err := f.FitAll(context.Background(), []Group{g})
		require.NoError(t, err)
		require.Len(t, rs, 1)
		require.Equal(t, equation.CPMGNoEx, rs[0].Best)
		require.False(t, rs[0].ExchangeValid)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rs, err := f.FitAll(ctx, groups)
		require.ErrorIs(t, err, context.Canceled)
		require.Empty(t, rs)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewFitter([]string{"CPMGMEDIUM"})
		require.ErrorIs(t, err, errs.ErrUnknownEquation)

		_, err = NewFitter(nil, WithWorkers(0))
		require.ErrorIs(t, err, errs.ErrInvalidConfig)

		empty, err := NewFitter(nil)
		require.NoError(t, err)
		rs, err := empty.FitAll(context.Background(), groups[:1])
		require.NoError(t, err)
		require.Empty(t, rs)
	})
}

func TestMetrics(t *testing.T) {
	metricReader()
	fast := attribute.String("equation", equation.CPMGFast)
	fitsBefore := counter(t, "ringfit_fits_total", fast)
	selBefore := counter(t, "ringfit_selections_total", fast)
	repBefore := counter(t, "ringfit_bootstrap_replicates_total", attribute.String("mode", "nonparametric"))

	g := cpmgGroup(t, "M1", []float64{500, 10, 1.5}, 9)
	f, err := NewFitter([]string{equation.CPMGNoEx, equation.CPMGFast}, WithBootstrap(true), WithSampleSize(5))
	require.NoError(t, err)
	_, err = f.FitAll(context.Background(), []Group{g})
	require.NoError(t, err)

	require.Equal(t, fitsBefore+1, counter(t, "ringfit_fits_total", fast))
	require.Equal(t, selBefore+1, counter(t, "ringfit_selections_total", fast))
	require.Equal(t, repBefore+10, counter(t, "ringfit_bootstrap_replicates_total", attribute.String("mode", "nonparametric")))
}
