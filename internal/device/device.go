package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNoIdentity is returned when a fetch is needed but neither id nor name is known.
var ErrNoIdentity = errors.New("device has neither id nor name")

var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// LoadState describes how much of the attribute bag is known.
type LoadState int

const (
	Unloaded LoadState = iota
	PartiallyLoaded
	FullyLoaded
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case PartiallyLoaded:
		return "partially_loaded"
	case FullyLoaded:
		return "fully_loaded"
	default:
		return "unknown"
	}
}

type loadKind int

const (
	loadIdentity loadKind = iota
	loadFull
)

// Device is one device registered with the Particle cloud.
//
// Missing identity and capability data is fetched through the Client on first
// access. A Device is not safe for concurrent use; concurrent fetches on the
// same Device race and the last one to finish wins.
type Device struct {
	client Client
	attrs  Attributes
	state  LoadState
}

// IsID reports whether ref has the shape of a device id (24 hex characters).
func IsID(ref string) bool {
	return idPattern.MatchString(ref)
}

// New classifies ref as an id or a name and returns an unloaded Device.
func New(client Client, ref string) *Device {
	if IsID(ref) {
		return ByID(client, ref)
	}
	return ByName(client, ref)
}

func ByID(client Client, id string) *Device {
	return &Device{client: client, attrs: Attributes{ID: id}}
}

func ByName(client Client, name string) *Device {
	return &Device{client: client, attrs: Attributes{Name: name}}
}

// FromAttributes wraps attributes returned by the API. Listing and claim
// responses omit variables, so those devices start partially loaded. A record
// with a variables key, null included, is fully loaded.
func FromAttributes(client Client, attrs Attributes) *Device {
	d := &Device{client: client, attrs: attrs.clone(), state: PartiallyLoaded}
	if attrs.HasCapabilities() {
		d.state = FullyLoaded
	}
	return d
}

func (d *Device) State() LoadState { return d.state }

// Loaded reports whether the attribute bag came from a full device record.
// That is true after a successful fetch and also for a device built from a
// full record, where no fetch has happened.
func (d *Device) Loaded() bool { return d.state == FullyLoaded }

func (d *Device) FullyLoaded() bool { return d.state == FullyLoaded }

// Attributes returns a copy of the current attribute bag without fetching.
func (d *Device) Attributes() Attributes { return d.attrs.clone() }

// Reload fetches the full device record and replaces the attribute bag.
// On error the bag and load state are left untouched.
func (d *Device) Reload(ctx context.Context) error {
	if d.IDOrName() == "" {
		return ErrNoIdentity
	}
	attrs, err := d.client.DeviceAttributes(ctx, d)
	if err != nil {
		return err
	}
	d.attrs = attrs.clone()
	d.state = FullyLoaded
	return nil
}

func (d *Device) ensureLoaded(ctx context.Context, kind loadKind, have bool) error {
	switch kind {
	case loadIdentity:
		if have {
			return nil
		}
	case loadFull:
		if d.state == FullyLoaded {
			return nil
		}
	}
	return d.Reload(ctx)
}

func (d *Device) ID(ctx context.Context) (string, error) {
	if err := d.ensureLoaded(ctx, loadIdentity, d.attrs.ID != ""); err != nil {
		return "", err
	}
	return d.attrs.ID, nil
}

func (d *Device) Name(ctx context.Context) (string, error) {
	if err := d.ensureLoaded(ctx, loadIdentity, d.attrs.Name != ""); err != nil {
		return "", err
	}
	return d.attrs.Name, nil
}

// IDOrName returns the id if known, else the name. It never fetches.
func (d *Device) IDOrName() string {
	if d.attrs.ID != "" {
		return d.attrs.ID
	}
	return d.attrs.Name
}

func (d *Device) Functions(ctx context.Context) ([]string, error) {
	if err := d.ensureLoaded(ctx, loadFull, false); err != nil {
		return nil, err
	}
	return append([]string(nil), d.attrs.Functions...), nil
}

func (d *Device) Variables(ctx context.Context) (map[string]string, error) {
	if err := d.ensureLoaded(ctx, loadFull, false); err != nil {
		return nil, err
	}
	return cloneMap(d.attrs.Variables), nil
}

// Scalar accessors return whatever the bag holds and never fetch.

func (d *Device) Connected() bool { return d.attrs.Connected }

func (d *Device) ProductID() (int, bool) {
	if d.attrs.ProductID == nil {
		return 0, false
	}
	return *d.attrs.ProductID, true
}

func (d *Device) LastHeard() time.Time { return d.attrs.LastHeard }

func (d *Device) LastApp() string { return d.attrs.LastApp }

func (d *Device) LastIPAddress() string { return d.attrs.LastIPAddress }

func (d *Device) PlatformID() (int, bool) {
	if d.attrs.PlatformID == nil {
		return 0, false
	}
	return *d.attrs.PlatformID, true
}

func (d *Device) Cellular() bool { return d.attrs.Cellular }

func (d *Device) Status() string { return d.attrs.Status }

func (d *Device) Notes() string { return d.attrs.Notes }

func (d *Device) SerialNumber() string { return d.attrs.SerialNumber }

func (d *Device) SystemFirmwareVersion() string { return d.attrs.SystemFirmwareVersion }

// Product returns the product name for the device's product id, or "" when
// the id is absent or not recognized.
func (d *Device) Product() string {
	id, ok := d.ProductID()
	if !ok {
		return ""
	}
	name, _ := ProductName(id)
	return name
}

func (d *Device) String() string {
	var b strings.Builder
	b.WriteString("device ")
	switch {
	case d.attrs.ID != "" && d.attrs.Name != "":
		fmt.Fprintf(&b, "%s (%s)", d.attrs.Name, d.attrs.ID)
	case d.attrs.ID != "":
		b.WriteString(d.attrs.ID)
	default:
		fmt.Fprintf(&b, "%q", d.attrs.Name)
	}
	if d.state != Unloaded {
		fmt.Fprintf(&b, " connected=%t", d.attrs.Connected)
		if product := d.Product(); product != "" {
			fmt.Fprintf(&b, " product=%s", product)
		}
	}
	return b.String()
}
