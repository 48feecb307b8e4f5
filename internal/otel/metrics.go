package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the instruments recorded by the store and the publisher.
type Metrics struct {
	IPCCalls    metric.Int64Counter
	IPCDuration metric.Float64Histogram
	StoreOps    metric.Int64Counter
	StoreErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.IPCCalls, err = meter.Int64Counter("gnomato.ipc.calls",
		metric.WithDescription("Inbound bus method calls, by method and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.IPCDuration, err = meter.Float64Histogram("gnomato.ipc.duration",
		metric.WithDescription("Bus method dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreOps, err = meter.Int64Counter("gnomato.store.ops",
		metric.WithDescription("Task store operations"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreErrors, err = meter.Int64Counter("gnomato.store.errors",
		metric.WithDescription("Task store operations that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
