package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry builds a registry from groups of collectors.
func MetricsRegistry(groups ...[]prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	for _, group := range groups {
		for _, collector := range group {
			registry.MustRegister(collector)
		}
	}

	return registry
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
