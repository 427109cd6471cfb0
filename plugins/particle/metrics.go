package particle

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/particle/internal/device"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "particle_api_requests_total",
			Help: "Particle API requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "particle_api_request_duration_seconds",
			Help:    "Particle API request latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// ClientCollectors exposes the API request collectors.
func ClientCollectors() []prometheus.Collector {
	return []prometheus.Collector{requestsTotal, requestDuration}
}

// DeviceLister is the part of Client the fleet collector needs.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]*device.Device, error)
}

// MetricsCollector reports connection state of every device on the account.
type MetricsCollector struct {
	lister DeviceLister

	connected   *prometheus.GaugeVec
	lastHeard   *prometheus.GaugeVec
	devices     prometheus.Gauge
	lastSuccess prometheus.Gauge
	success     prometheus.Gauge
}

func NewMetricsCollector(lister DeviceLister) *MetricsCollector {
	labels := []string{"device_id", "device_name", "product"}
	return &MetricsCollector{
		lister: lister,
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "particle_device_connected_bool",
			Help: "Device connected to the cloud (1=online, 0=offline)",
		}, labels),
		lastHeard: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "particle_device_last_heard_timestamp_seconds",
			Help: "Last time the cloud heard from the device (epoch seconds)",
		}, labels),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particle_devices",
			Help: "Devices on the account",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particle_last_success_timestamp_seconds",
			Help: "Last successful device listing (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particle_scrape_success",
			Help: "Last scrape success (1=ok, 0=error)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.connected.Describe(ch)
	c.lastHeard.Describe(ch)
	c.devices.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	devices, err := c.lister.ListDevices(ctx)
	if err != nil {
		c.success.Set(0)
		c.collectAll(ch)
		return
	}

	c.connected.Reset()
	c.lastHeard.Reset()
	for _, d := range devices {
		attrs := d.Attributes()
		labels := prometheus.Labels{
			"device_id":   attrs.ID,
			"device_name": attrs.Name,
			"product":     d.Product(),
		}
		c.connected.With(labels).Set(boolToFloat(d.Connected()))
		if heard := d.LastHeard(); !heard.IsZero() {
			c.lastHeard.With(labels).Set(float64(heard.Unix()))
		}
	}

	c.devices.Set(float64(len(devices)))
	c.success.Set(1)
	c.lastSuccess.Set(float64(time.Now().Unix()))
	c.collectAll(ch)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.connected.Collect(ch)
	c.lastHeard.Collect(ch)
	c.devices.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
