package persistence

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/thebtf/lifecycle/pkg/persistence"

// instruments groups the OpenTelemetry instruments recorded by sessions.
type instruments struct {
	statements   metric.Int64Counter
	transactions metric.Int64Counter
	commitTime   metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	statements, err := meter.Int64Counter("lifecycle.statements",
		metric.WithDescription("Storage statements issued at commit"))
	if err != nil {
		return nil, err
	}
	transactions, err := meter.Int64Counter("lifecycle.transactions",
		metric.WithDescription("Transactions by outcome"))
	if err != nil {
		return nil, err
	}
	commitTime, err := meter.Float64Histogram("lifecycle.commit.duration",
		metric.WithDescription("Commit duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &instruments{
		statements:   statements,
		transactions: transactions,
		commitTime:   commitTime,
	}, nil
}

func (m *instruments) statement(ctx context.Context, op, table string) {
	m.statements.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("table", table),
	))
}

func (m *instruments) transaction(ctx context.Context, outcome string) {
	m.transactions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *instruments) commitDuration(ctx context.Context, start time.Time, outcome string) {
	m.commitTime.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
