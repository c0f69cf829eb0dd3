package ringfit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("ringfit")
	meter  = otel.Meter("ringfit")
)

var (
	fitDuration     metric.Float64Histogram
	fitsTotal       metric.Int64Counter
	replicatesTotal metric.Int64Counter
	selectionsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments once.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		fitDuration, err = meter.Float64Histogram(
			"ringfit_fit_duration_seconds",
			metric.WithDescription("Duration of single equation fits"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fitsTotal, err = meter.Int64Counter(
			"ringfit_fits_total",
			metric.WithDescription("Equation fits by equation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		replicatesTotal, err = meter.Int64Counter(
			"ringfit_bootstrap_replicates_total",
			metric.WithDescription("Bootstrap replicates by mode and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		selectionsTotal, err = meter.Int64Counter(
			"ringfit_selections_total",
			metric.WithDescription("Model selections by chosen equation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})

	return metricsErr
}

func recordFit(ctx context.Context, equation string, d time.Duration, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("equation", equation), attribute.Bool("ok", ok))
	fitDuration.Record(ctx, d.Seconds(), attrs)
	fitsTotal.Add(ctx, 1, attrs)
}

func recordReplicates(ctx context.Context, mode string, total, failed int) {
	if err := initMetrics(); err != nil {
		return
	}
	replicatesTotal.Add(ctx, int64(total-failed), metric.WithAttributes(attribute.String("mode", mode), attribute.Bool("ok", true)))
	if failed > 0 {
		replicatesTotal.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("mode", mode), attribute.Bool("ok", false)))
	}
}

func recordSelection(ctx context.Context, equation string, exchangeValid bool) {
	if err := initMetrics(); err != nil {
		return
	}
	selectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("equation", equation),
		attribute.Bool("exchange_valid", exchangeValid),
	))
}

func startFitSpan(ctx context.Context, equation string, curves int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ringfit.FitCurve",
		trace.WithAttributes(
			attribute.String("ringfit.equation", equation),
			attribute.Int("ringfit.curves", curves),
		),
	)
}
