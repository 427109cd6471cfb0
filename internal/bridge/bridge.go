package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/particle/internal/device"
)

// Lister returns the devices on the account.
type Lister interface {
	ListDevices(ctx context.Context) ([]*device.Device, error)
}

// DeviceState is the retained message published per device.
type DeviceState struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Product       string    `json:"product,omitempty"`
	ProductID     *int      `json:"product_id,omitempty"`
	PlatformID    *int      `json:"platform_id,omitempty"`
	Connected     bool      `json:"connected"`
	LastHeard     time.Time `json:"last_heard,omitzero"`
	LastIPAddress string    `json:"last_ip_address,omitempty"`
	Status        string    `json:"status,omitempty"`
	Firmware      string    `json:"system_firmware_version,omitempty"`
}

// Status summarizes the last poll. It is published to the bridge status
// topic and served by the HTTP status endpoint.
type Status struct {
	State     string    `json:"state"`
	Devices   int       `json:"devices"`
	Online    int       `json:"online"`
	LastPoll  time.Time `json:"last_poll,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

const (
	stateOnline  = "online"
	stateOffline = "offline"
)

func StatusTopic(prefix string) string { return prefix + "/bridge/status" }

func DeviceTopic(prefix, slug string) string { return prefix + "/" + slug + "/state" }

func offlinePayload() []byte {
	data, _ := json.Marshal(Status{State: stateOffline})
	return data
}

type Options struct {
	TopicPrefix string
	Interval    time.Duration
	Logger      *slog.Logger
}

// Bridge mirrors the device fleet to a broker.
type Bridge struct {
	lister    Lister
	publisher Publisher
	prefix    string
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	status Status

	// slugs published by the last successful poll
	published map[string]bool
}

func New(lister Lister, publisher Publisher, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Bridge{
		lister:    lister,
		publisher: publisher,
		prefix:    opts.TopicPrefix,
		interval:  interval,
		logger:    logger.With("component", "bridge"),
		now:       time.Now,
		status:    Status{State: stateOnline},
		published: map[string]bool{},
	}
}

// Run polls until ctx is done, then publishes the offline status.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.pollAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			if err := b.publisher.Publish(StatusTopic(b.prefix), offlinePayload()); err != nil {
				b.logger.Warn("publish offline status failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			b.pollAndLog(ctx)
		}
	}
}

func (b *Bridge) pollAndLog(ctx context.Context) {
	if err := b.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("poll failed", "error", err)
	}
}

// Poll lists devices once and publishes their state and the bridge status.
func (b *Bridge) Poll(ctx context.Context) error {
	devices, err := b.lister.ListDevices(ctx)
	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		b.update(func(s *Status) { s.LastError = err.Error() })
		b.publishStatus()
		return fmt.Errorf("list devices: %w", err)
	}

	var errs []error
	online := 0
	seen := make(map[string]bool, len(devices))
	disconnected := false
	for _, d := range devices {
		if d.Connected() {
			online++
		}
		state := stateOf(d)
		slug := Slug(state.Name, state.ID)
		if seen[slug] {
			slug = slug + "_" + state.ID
		}
		seen[slug] = true
		if disconnected {
			continue
		}

		payload, err := json.Marshal(state)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := b.publish(DeviceTopic(b.prefix, slug), payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", slug, err))
			disconnected = errors.Is(err, ErrNotConnected)
		}
	}

	// An empty retained payload removes the state of devices that were
	// renamed or removed since the last poll.
	for slug := range b.published {
		if seen[slug] {
			continue
		}
		if disconnected {
			seen[slug] = true
			continue
		}
		if err := b.publish(DeviceTopic(b.prefix, slug), nil); err != nil {
			seen[slug] = true
			errs = append(errs, fmt.Errorf("clear %s: %w", slug, err))
			disconnected = errors.Is(err, ErrNotConnected)
		}
	}
	b.published = seen

	pollsTotal.WithLabelValues("ok").Inc()
	b.update(func(s *Status) {
		s.Devices = len(devices)
		s.Online = online
		s.LastPoll = b.now().UTC()
		s.LastError = ""
		if err := errors.Join(errs...); err != nil {
			s.LastError = err.Error()
		}
	})
	b.publishStatus()
	b.logger.Debug("poll complete", "devices", len(devices), "online", online)
	return errors.Join(errs...)
}

// Status returns the summary of the last poll.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Bridge) update(fn func(*Status)) {
	b.mu.Lock()
	fn(&b.status)
	b.mu.Unlock()
}

func (b *Bridge) publishStatus() {
	payload, err := json.Marshal(b.Status())
	if err != nil {
		return
	}
	if err := b.publish(StatusTopic(b.prefix), payload); err != nil {
		b.logger.Warn("publish bridge status failed", "error", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte) error {
	err := b.publisher.Publish(topic, payload)
	if err != nil {
		publishErrors.Inc()
	}
	return err
}

func stateOf(d *device.Device) DeviceState {
	attrs := d.Attributes()
	return DeviceState{
		ID:            attrs.ID,
		Name:          attrs.Name,
		Product:       d.Product(),
		ProductID:     attrs.ProductID,
		PlatformID:    attrs.PlatformID,
		Connected:     attrs.Connected,
		LastHeard:     attrs.LastHeard,
		LastIPAddress: attrs.LastIPAddress,
		Status:        attrs.Status,
		Firmware:      attrs.SystemFirmwareVersion,
	}
}

var (
	pollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "particle_bridge_polls_total",
		Help: "Bridge polls by outcome",
	}, []string{"outcome"})
	publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "particle_bridge_publish_errors_total",
		Help: "Failed broker publishes",
	})
)

// MetricsCollectors exposes the bridge collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{pollsTotal, publishErrors}
}
