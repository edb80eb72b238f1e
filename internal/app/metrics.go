package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// registerPoolMetrics exposes pgx pool gauges through the telemetry meter.
func registerPoolMetrics(m *app.Telemetry, pool *pgxpool.Pool) error {
	meter := m.MeterProvider().Meter("checkout-engine")

	acquired, err := meter.Int64ObservableGauge("pgxpool.acquired_conns",
		metric.WithDescription("Connections currently acquired from the pool"))
	if err != nil {
		return errors.Wrap(err, "acquired gauge")
	}
	idle, err := meter.Int64ObservableGauge("pgxpool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	if err != nil {
		return errors.Wrap(err, "idle gauge")
	}
	total, err := meter.Int64ObservableGauge("pgxpool.total_conns",
		metric.WithDescription("Total connections held by the pool"))
	if err != nil {
		return errors.Wrap(err, "total gauge")
	}

	attrs := metric.WithAttributes(attribute.String("pool", "main"))
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := pool.Stat()
		o.ObserveInt64(acquired, int64(s.AcquiredConns()), attrs)
		o.ObserveInt64(idle, int64(s.IdleConns()), attrs)
		o.ObserveInt64(total, int64(s.TotalConns()), attrs)
		return nil
	}, acquired, idle, total)
	return errors.Wrap(err, "register callback")
}
