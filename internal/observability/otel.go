package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelMetrics forwards engine counters to the global OpenTelemetry meter
// provider. Instruments are created lazily per counter name.
type OtelMetrics struct {
	mu       sync.Mutex
	meter    metric.Meter
	counters map[string]metric.Int64Counter
}

// NewOtelMetrics creates a metrics sink bound to the named meter.
func NewOtelMetrics(meterName string) *OtelMetrics {
	m := new(OtelMetrics)
	m.meter = otel.GetMeterProvider().Meter(meterName)
	m.counters = make(map[string]metric.Int64Counter)
	return m
}

// IncCounter implements Metrics.
func (m *OtelMetrics) IncCounter(name string, value int64, labels map[string]string) {
	m.mu.Lock()
	counter, ok := m.counters[name]
	if !ok {
		created, err := m.meter.Int64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		counter = created
		m.counters[name] = counter
	}
	m.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}
