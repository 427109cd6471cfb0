package particle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/particle/internal/device"
)

var ErrNotFound = errors.New("particle: not found")

// HTTPStatusError is returned for API responses with a non-2xx status.
type HTTPStatusError struct {
	Status  int
	Message string
	Body    string
}

func (e HTTPStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("particle api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("particle api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func (e HTTPStatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// TokenSource supplies bearer tokens for API requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// refresher is implemented by token sources that can renew a rejected token.
type refresher interface {
	TriggerRefresh(ctx context.Context)
}

// StaticToken is a TokenSource for a fixed access token.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("access token is empty")
	}
	return string(t), nil
}

// Client talks to the Particle cloud REST API and performs the network
// operations of device.Device.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

var _ device.Client = (*Client)(nil)

func NewClient(cfg Config, tokens TokenSource, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With("component", "particle"),
		now:        time.Now,
	}
}

// Device returns an unloaded device bound to this client. ref is an id when
// it is 24 hex characters and a name otherwise.
func (c *Client) Device(ref string) *device.Device {
	return device.New(c, ref)
}

// ListDevices returns all devices on the account. Listings omit functions and
// variables, so the devices are partially loaded.
func (c *Client) ListDevices(ctx context.Context) ([]*device.Device, error) {
	var resp []device.Attributes
	if err := c.getJSON(ctx, "list_devices", device.ListPath, &resp); err != nil {
		return nil, err
	}
	devices := make([]*device.Device, 0, len(resp))
	for _, attrs := range resp {
		devices = append(devices, device.FromAttributes(c, attrs))
	}
	return devices, nil
}

func (c *Client) DeviceAttributes(ctx context.Context, d *device.Device) (device.Attributes, error) {
	var attrs device.Attributes
	if err := c.getJSON(ctx, "device_attributes", d.Path(), &attrs); err != nil {
		return device.Attributes{}, err
	}
	return attrs, nil
}

func (c *Client) ClaimDevice(ctx context.Context, d *device.Device) error {
	var resp okResponse
	form := url.Values{"id": {d.IDOrName()}}
	if err := c.sendForm(ctx, "claim_device", http.MethodPost, device.ClaimPath, form, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("claim %s: api did not confirm the claim", d.IDOrName())
	}
	return nil
}

func (c *Client) RemoveDevice(ctx context.Context, d *device.Device) (bool, error) {
	var resp okResponse
	if err := c.sendForm(ctx, "remove_device", http.MethodDelete, d.Path(), nil, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) RenameDevice(ctx context.Context, d *device.Device, name string) (bool, error) {
	var resp renameResponse
	form := url.Values{"name": {name}}
	if err := c.sendForm(ctx, "rename_device", http.MethodPut, d.Path(), form, &resp); err != nil {
		return false, err
	}
	return resp.Name == name, nil
}

func (c *Client) CallFunction(ctx context.Context, d *device.Device, name, argument string) (device.FunctionResult, error) {
	var resp functionResponse
	form := url.Values{"arg": {argument}}
	if err := c.sendForm(ctx, "call_function", http.MethodPost, d.FunctionPath(name), form, &resp); err != nil {
		return device.FunctionResult{}, err
	}
	if resp.Name == "" {
		resp.Name = name
	}
	return device.FunctionResult{
		Name:        resp.Name,
		ReturnValue: resp.ReturnValue,
		Connected:   resp.Connected,
	}, nil
}

func (c *Client) GetVariable(ctx context.Context, d *device.Device, name string) (device.VariableResult, error) {
	var resp variableResponse
	if err := c.getJSON(ctx, "get_variable", d.VariablePath(name), &resp); err != nil {
		return device.VariableResult{}, err
	}
	if resp.Name == "" {
		resp.Name = name
	}
	return device.VariableResult{
		Name:      resp.Name,
		Result:    resp.Result,
		Connected: resp.CoreInfo.Connected,
	}, nil
}

// SignalDevice toggles the identification LED pattern and returns the
// signaling state reported by the API.
func (c *Client) SignalDevice(ctx context.Context, d *device.Device, enabled bool) (bool, error) {
	signal := "0"
	if enabled {
		signal = "1"
	}
	var resp signalResponse
	if err := c.sendForm(ctx, "signal_device", http.MethodPut, d.Path(), url.Values{"signal": {signal}}, &resp); err != nil {
		return false, err
	}
	if enabled && !resp.Signaling {
		c.logger.Warn("signal not confirmed", "device", d.IDOrName(), "connected", resp.Connected)
	}
	return resp.Signaling, nil
}

func (c *Client) FlashDevice(ctx context.Context, d *device.Device, files []string, opts device.FlashOptions) (device.BuildResult, error) {
	fields := map[string]string{}
	if opts.Binary {
		fields["file_type"] = "binary"
	}
	body, contentType, err := multipartBody(files, fields)
	if err != nil {
		return device.BuildResult{}, err
	}
	var resp buildResponse
	if err := c.send(ctx, "flash_device", http.MethodPut, d.Path(), body, contentType, &resp); err != nil {
		return device.BuildResult{}, err
	}
	return device.BuildResult{OK: resp.ok(), Errors: resp.errorText()}, nil
}

// Compile builds files in the cloud for the platform of deviceID.
func (c *Client) Compile(ctx context.Context, files []string, deviceID string) (device.BuildResult, error) {
	fields := map[string]string{}
	if deviceID != "" {
		fields["device_id"] = deviceID
	}
	body, contentType, err := multipartBody(files, fields)
	if err != nil {
		return device.BuildResult{}, err
	}
	var resp buildResponse
	if err := c.send(ctx, "compile", http.MethodPost, binariesPath, body, contentType, &resp); err != nil {
		return device.BuildResult{}, err
	}
	return device.BuildResult{OK: resp.ok(), Errors: resp.errorText(), BinaryID: resp.BinaryID}, nil
}

func (c *Client) ChangeDeviceProduct(ctx context.Context, d *device.Device, productID int, shouldUpdate bool) (bool, error) {
	form := url.Values{
		"product_id":     {strconv.Itoa(productID)},
		"update_version": {strconv.FormatBool(shouldUpdate)},
	}
	var resp changeProductResponse
	if err := c.sendForm(ctx, "change_device_product", http.MethodPut, d.Path(), form, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, fmt.Errorf("change product of %s: %s", d.IDOrName(), resp.Error)
	}
	return resp.UpdatedProductID == productID, nil
}

// UpdateDevicePublicKey uploads a new device public key. The provisioning
// endpoint needs the device id, so a device known by name is resolved first.
func (c *Client) UpdateDevicePublicKey(ctx context.Context, d *device.Device, publicKey, algorithm string) (bool, error) {
	id, err := d.ID(ctx)
	if err != nil {
		return false, err
	}
	form := url.Values{
		"deviceID":  {id},
		"publicKey": {publicKey},
		"algorithm": {algorithm},
		"filename":  {keyUploadFilename},
		"order":     {fmt.Sprintf("manual_%d", c.now().Unix())},
	}
	var resp map[string]any
	if err := c.sendForm(ctx, "update_device_public_key", http.MethodPost, device.UpdatePublicKeyPath, form, &resp); err != nil {
		return false, err
	}
	return len(resp) > 0, nil
}

// ProvisionDevice creates a new device id in productID. The answer is a
// partial record.
func (c *Client) ProvisionDevice(ctx context.Context, productID int) (*device.Device, error) {
	var attrs device.Attributes
	form := url.Values{"product_id": {strconv.Itoa(productID)}}
	if err := c.sendForm(ctx, "provision_device", http.MethodPost, device.ProvisionPath, form, &attrs); err != nil {
		return nil, err
	}
	return device.FromAttributes(c, attrs), nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	return c.send(ctx, op, http.MethodGet, path, nil, "", out)
}

func (c *Client) sendForm(ctx context.Context, op, method, path string, form url.Values, out any) error {
	if form == nil {
		return c.send(ctx, op, method, path, nil, "", out)
	}
	return c.send(ctx, op, method, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *Client) send(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	start := c.now()
	err := c.doJSON(ctx, method, path, body, contentType, out)
	requestDuration.WithLabelValues(op).Observe(c.now().Sub(start).Seconds())
	requestsTotal.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		c.logger.Debug("api request failed", "op", op, "method", method, "path", path, "error", err)
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if r, ok := c.tokens.(refresher); ok {
			r.TriggerRefresh(ctx)
		}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		statusErr := HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil {
			statusErr.Message = apiErr.message()
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func outcome(err error) string {
	var statusErr HTTPStatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &statusErr):
		return strconv.Itoa(statusErr.Status)
	default:
		return "error"
	}
}
