// Package metrics counts pipeline events and exposes them through a private
// Prometheus registry that can be dumped in text exposition format.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pipeline counters
type Metrics struct {
	// Contour counters
	ContoursKept atomic.Uint64

	// Region counters
	RegionsResolved atomic.Uint64
	RegionsExported atomic.Uint64
	ExportFailures  atomic.Uint64

	// Slice cache
	SliceCacheHits   atomic.Uint64
	SliceCacheMisses atomic.Uint64

	contoursDropped *prometheus.CounterVec
	regionsSkipped  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		contoursDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom2ply_contours_dropped_total",
			Help: "Contours excluded from their region's pool",
		}, []string{"reason"}),
		regionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom2ply_regions_skipped_total",
			Help: "Structure set entries or regions that were not resolved",
		}, []string{"reason"}),
	}

	m.registerPrometheusMetrics()
	return m
}

// registerPrometheusMetrics registers all metrics with the private registry
func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		value      *atomic.Uint64
	}{
		{"dicom2ply_contours_kept_total", "Contours kept in a region pool", &m.ContoursKept},
		{"dicom2ply_regions_resolved_total", "Regions with at least one kept contour", &m.RegionsResolved},
		{"dicom2ply_regions_exported_total", "PLY files written", &m.RegionsExported},
		{"dicom2ply_export_failures_total", "Regions whose export failed or was skipped", &m.ExportFailures},
		{"dicom2ply_slice_cache_hits_total", "Slice lookups served from the cache", &m.SliceCacheHits},
		{"dicom2ply_slice_cache_misses_total", "Slice lookups that read from the source", &m.SliceCacheMisses},
	}

	for _, c := range counters {
		value := c.value
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	m.registry.MustRegister(m.contoursDropped, m.regionsSkipped)
}

// ContourDropped counts one excluded contour
func (m *Metrics) ContourDropped(reason string) {
	m.contoursDropped.WithLabelValues(reason).Inc()
}

// RegionSkipped counts one unresolved entry or region
func (m *Metrics) RegionSkipped(reason string) {
	m.regionsSkipped.WithLabelValues(reason).Inc()
}

// Registry returns the registry holding the pipeline collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
