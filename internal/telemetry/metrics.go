package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

var (
	meterOnce     sync.Once
	meterShutdown ShutdownFunc
	meterErr      error
)

// InitMeterProvider регистрирует OTel-метрики в default Prometheus registry,
// поэтому они отдаются тем же /metrics, что и promauto-метрики сервиса.
// Exporter регистрируется в процессе один раз.
func InitMeterProvider(cfg Config) (ShutdownFunc, error) {
	meterOnce.Do(func() {
		exporter, err := prometheus.New()
		if err != nil {
			meterErr = err
			return
		}

		mp := metric.NewMeterProvider(
			metric.WithReader(exporter),
			metric.WithResource(newResource(cfg)),
		)
		otel.SetMeterProvider(mp)

		if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
			_ = mp.Shutdown(context.Background())
			meterErr = err
			return
		}
		meterShutdown = mp.Shutdown
	})
	if meterErr != nil {
		return nil, meterErr
	}
	return meterShutdown, nil
}
