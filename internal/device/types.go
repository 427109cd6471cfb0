package device

import (
	"bytes"
	"encoding/json"
	"maps"
	"time"
)

// Attributes is the attribute bag of a device as returned by the cloud API.
// A record carries capability data when it has a variables key, even a null
// one; decoding keeps track of that.
type Attributes struct {
	ID                    string            `json:"id,omitempty"`
	Name                  string            `json:"name,omitempty"`
	Connected             bool              `json:"connected"`
	ProductID             *int              `json:"product_id,omitempty"`
	PlatformID            *int              `json:"platform_id,omitempty"`
	LastHeard             time.Time         `json:"last_heard,omitempty"`
	LastApp               string            `json:"last_app,omitempty"`
	LastIPAddress         string            `json:"last_ip_address,omitempty"`
	Cellular              bool              `json:"cellular,omitempty"`
	Status                string            `json:"status,omitempty"`
	Notes                 string            `json:"notes,omitempty"`
	SerialNumber          string            `json:"serial_number,omitempty"`
	SystemFirmwareVersion string            `json:"system_firmware_version,omitempty"`
	Functions             []string          `json:"functions,omitempty"`
	Variables             map[string]string `json:"variables,omitempty"`

	hasVariables bool
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	type plain Attributes
	var raw struct {
		plain
		Variables json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Attributes(raw.plain)
	a.Variables = nil
	a.hasVariables = raw.Variables != nil
	if a.hasVariables && !bytes.Equal(raw.Variables, []byte("null")) {
		if err := json.Unmarshal(raw.Variables, &a.Variables); err != nil {
			return err
		}
	}
	return nil
}

// HasCapabilities reports whether the record included the variables key.
func (a Attributes) HasCapabilities() bool {
	return a.hasVariables || a.Variables != nil
}

func (a Attributes) clone() Attributes {
	out := a
	if a.ProductID != nil {
		v := *a.ProductID
		out.ProductID = &v
	}
	if a.PlatformID != nil {
		v := *a.PlatformID
		out.PlatformID = &v
	}
	if a.Functions != nil {
		out.Functions = append([]string(nil), a.Functions...)
	}
	out.Variables = cloneMap(a.Variables)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	return maps.Clone(in)
}

// FlashOptions controls a flash request.
type FlashOptions struct {
	// Binary sends the files as a compiled binary and skips the compile step.
	Binary bool
}

// BuildResult is the outcome of a compile or flash request.
type BuildResult struct {
	OK       bool   `json:"ok"`
	Errors   string `json:"errors,omitempty"`
	BinaryID string `json:"binary_id,omitempty"`
}

// FunctionResult is the outcome of calling a firmware function.
type FunctionResult struct {
	Name        string `json:"name"`
	ReturnValue int    `json:"return_value"`
	Connected   bool   `json:"connected"`
}

// VariableResult holds a firmware variable value. Result is a float64, string
// or bool depending on the variable type.
type VariableResult struct {
	Name      string `json:"name"`
	Result    any    `json:"result"`
	Connected bool   `json:"connected"`
}
