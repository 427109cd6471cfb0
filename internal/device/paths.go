package device

import "net/url"

const (
	ListPath            = "v1/devices"
	ClaimPath           = "v1/devices"
	ProvisionPath       = "v1/devices"
	UpdatePublicKeyPath = "/v1/provisioning/x"
)

// Path is the API path for this device, keyed by id when known.
func (d *Device) Path() string {
	return "/v1/devices/" + url.PathEscape(d.IDOrName())
}

func (d *Device) FunctionPath(name string) string {
	return d.Path() + "/" + url.PathEscape(name)
}

func (d *Device) VariablePath(name string) string {
	return d.Path() + "/" + url.PathEscape(name)
}
