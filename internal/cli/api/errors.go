package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is an error answer from the API. Code carries the machine-readable
// code (e.g. DOMAIN_NOT_VERIFIED) when the API sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Code != "" {
		return fmt.Sprintf("api error (%s): %s", e.Code, msg)
	}
	return fmt.Sprintf("api error: %s", msg)
}

// parseAPIError reads the {error, message, details} body written by the API
func parseAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	payload := struct {
		Error   string      `json:"error"`
		Message string      `json:"message"`
		Details interface{} `json:"details"`
	}{}
	if len(body) > 0 && json.Unmarshal(body, &payload) != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	msg := payload.Message
	if msg == "" {
		msg = resp.Status
	}

	var details string
	switch v := payload.Details.(type) {
	case string:
		details = v
	case map[string]interface{}, []interface{}:
		if data, err := json.Marshal(v); err == nil {
			details = string(data)
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       payload.Error,
		Message:    msg,
		Details:    details,
	}
}
