package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusExporter pairs a MeterProvider with the scrape handler that
// exposes its instruments. Each exporter owns an independent registry.
type PrometheusExporter struct {
	Handler  http.Handler
	Provider *sdkmetric.MeterProvider
}

// NewPrometheusExporter creates a Prometheus-backed MeterProvider. The
// registry also carries the Go runtime and process collectors.
func NewPrometheusExporter() (*PrometheusExporter, error) {
	registry := prometheus.NewRegistry()

	err := registry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	err = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &PrometheusExporter{
		Handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
	}, nil
}
