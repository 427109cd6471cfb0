package device

import "context"

// Client performs the network operations a Device delegates to.
type Client interface {
	DeviceAttributes(ctx context.Context, d *Device) (Attributes, error)
	ClaimDevice(ctx context.Context, d *Device) error
	RemoveDevice(ctx context.Context, d *Device) (bool, error)
	RenameDevice(ctx context.Context, d *Device, name string) (bool, error)
	CallFunction(ctx context.Context, d *Device, name, argument string) (FunctionResult, error)
	GetVariable(ctx context.Context, d *Device, name string) (VariableResult, error)
	SignalDevice(ctx context.Context, d *Device, enabled bool) (bool, error)
	FlashDevice(ctx context.Context, d *Device, files []string, opts FlashOptions) (BuildResult, error)
	Compile(ctx context.Context, files []string, deviceID string) (BuildResult, error)
	ChangeDeviceProduct(ctx context.Context, d *Device, productID int, shouldUpdate bool) (bool, error)
	UpdateDevicePublicKey(ctx context.Context, d *Device, publicKey, algorithm string) (bool, error)
}
