package particle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joshp123/particle/internal/device"
)

type fakeLister struct {
	devices []*device.Device
	err     error
}

func (f fakeLister) ListDevices(context.Context) ([]*device.Device, error) {
	return f.devices, f.err
}

func TestMetricsCollectorReportsDevices(t *testing.T) {
	product := 6
	lister := fakeLister{devices: []*device.Device{
		device.FromAttributes(nil, device.Attributes{
			ID:        testDeviceID,
			Name:      "blue",
			Connected: true,
			ProductID: &product,
			LastHeard: time.Unix(1_700_000_000, 0),
		}),
	}}
	collector := NewMetricsCollector(lister)

	expected := `
# HELP particle_device_connected_bool Device connected to the cloud (1=online, 0=offline)
# TYPE particle_device_connected_bool gauge
particle_device_connected_bool{device_id="0123456789abcdef01234567",device_name="blue",product="Photon"} 1
# HELP particle_device_last_heard_timestamp_seconds Last time the cloud heard from the device (epoch seconds)
# TYPE particle_device_last_heard_timestamp_seconds gauge
particle_device_last_heard_timestamp_seconds{device_id="0123456789abcdef01234567",device_name="blue",product="Photon"} 1.7e+09
# HELP particle_devices Devices on the account
# TYPE particle_devices gauge
particle_devices 1
# HELP particle_scrape_success Last scrape success (1=ok, 0=error)
# TYPE particle_scrape_success gauge
particle_scrape_success 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"particle_device_connected_bool",
		"particle_device_last_heard_timestamp_seconds",
		"particle_devices",
		"particle_scrape_success",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestMetricsCollectorMarksFailure(t *testing.T) {
	collector := NewMetricsCollector(fakeLister{err: errors.New("boom")})
	expected := `
# HELP particle_scrape_success Last scrape success (1=ok, 0=error)
# TYPE particle_scrape_success gauge
particle_scrape_success 0
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "particle_scrape_success"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}
