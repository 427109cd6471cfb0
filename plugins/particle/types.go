package particle

import (
	"encoding/json"
	"strings"
)

// apiError is the error body shape returned by the cloud API.
type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Info             string `json:"info"`
}

func (e apiError) message() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{e.Error, e.ErrorDescription, e.Info} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ": ")
}

type okResponse struct {
	OK bool `json:"ok"`
}

type renameResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type functionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Connected   bool   `json:"connected"`
	ReturnValue int    `json:"return_value"`
}

type variableResponse struct {
	Name     string `json:"name"`
	Result   any    `json:"result"`
	CoreInfo struct {
		Connected bool `json:"connected"`
	} `json:"coreInfo"`
}

type signalResponse struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Signaling bool   `json:"signaling"`
}

// buildResponse covers flash and compile answers. The API reports failures
// either as ok=false with an errors list or as a bare error field.
type buildResponse struct {
	OK       *bool           `json:"ok"`
	Status   string          `json:"status"`
	Errors   json.RawMessage `json:"errors"`
	Error    string          `json:"error"`
	Output   string          `json:"output"`
	BinaryID string          `json:"binary_id"`
}

type changeProductResponse struct {
	ID               string `json:"id"`
	UpdatedProductID int    `json:"updated_product_id"`
	Error            string `json:"error"`
}

// errorText flattens the errors field, which is either a string or a list.
func (r buildResponse) errorText() string {
	var lines []string
	if r.hasErrors() {
		var list []string
		var single string
		switch {
		case json.Unmarshal(r.Errors, &list) == nil:
			lines = append(lines, list...)
		case json.Unmarshal(r.Errors, &single) == nil:
			lines = append(lines, single)
		}
	}
	if r.Error != "" {
		lines = append(lines, r.Error)
	}
	if len(lines) == 0 && r.Output != "" {
		lines = append(lines, r.Output)
	}
	return strings.Join(lines, "\n")
}

func (r buildResponse) ok() bool {
	if r.OK != nil {
		return *r.OK
	}
	return r.Error == "" && !r.hasErrors()
}

func (r buildResponse) hasErrors() bool {
	return len(r.Errors) > 0 && string(r.Errors) != "null"
}
