package device

import "context"

// DefaultKeyAlgorithm is used by UpdatePublicKey when no algorithm is given.
const DefaultKeyAlgorithm = "rsa"

// Claim associates the device with the caller's account and returns d.
func (d *Device) Claim(ctx context.Context) (*Device, error) {
	if err := d.client.ClaimDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) Remove(ctx context.Context) (bool, error) {
	return d.client.RemoveDevice(ctx, d)
}

// Rename changes the device name in the cloud. The local name is not updated
// until the next Reload.
func (d *Device) Rename(ctx context.Context, name string) (bool, error) {
	return d.client.RenameDevice(ctx, d, name)
}

// Call invokes a firmware function with argument.
func (d *Device) Call(ctx context.Context, name, argument string) (FunctionResult, error) {
	return d.client.CallFunction(ctx, d, name, argument)
}

// Function is Call with an empty argument.
func (d *Device) Function(ctx context.Context, name string) (FunctionResult, error) {
	return d.Call(ctx, name, "")
}

// Get reads a firmware variable.
func (d *Device) Get(ctx context.Context, name string) (VariableResult, error) {
	return d.client.GetVariable(ctx, d, name)
}

func (d *Device) Variable(ctx context.Context, name string) (VariableResult, error) {
	return d.Get(ctx, name)
}

// Signal starts or stops the rainbow LED pattern used to identify a device.
func (d *Device) Signal(ctx context.Context, enabled bool) (bool, error) {
	return d.client.SignalDevice(ctx, d, enabled)
}

func (d *Device) Flash(ctx context.Context, files []string, opts FlashOptions) (BuildResult, error) {
	return d.client.FlashDevice(ctx, d, files, opts)
}

// Compile builds files for this device's platform. It resolves the device id
// first, which fetches when only the name is known.
func (d *Device) Compile(ctx context.Context, files []string) (BuildResult, error) {
	id, err := d.ID(ctx)
	if err != nil {
		return BuildResult{}, err
	}
	return d.client.Compile(ctx, files, id)
}

// ChangeProduct moves the device to another product. Moving back requires
// permission on the original product.
func (d *Device) ChangeProduct(ctx context.Context, productID int, shouldUpdate bool) (bool, error) {
	return d.client.ChangeDeviceProduct(ctx, d, productID, shouldUpdate)
}

func (d *Device) UpdatePublicKey(ctx context.Context, publicKey, algorithm string) (bool, error) {
	if algorithm == "" {
		algorithm = DefaultKeyAlgorithm
	}
	return d.client.UpdateDevicePublicKey(ctx, d, publicKey, algorithm)
}
