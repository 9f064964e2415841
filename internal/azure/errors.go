package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// UpstreamError is a failed call to a management API.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		if e.Code != "" {
			return fmt.Sprintf("azure %s failed (HTTP %d, %s): %s", e.Operation, e.StatusCode, e.Code, e.Message)
		}
		return fmt.Sprintf("azure %s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("azure %s failed: %s", e.Operation, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a 429 from the remote API.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsAuthError reports whether the remote API rejected the delegated token.
func IsAuthError(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode == http.StatusUnauthorized || ue.StatusCode == http.StatusForbidden
	}
	return false
}

// errorBody is the management API error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newStatusError(op string, status int, body []byte) *UpstreamError {
	ue := &UpstreamError{
		Operation:  op,
		StatusCode: status,
		Message:    http.StatusText(status),
	}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		ue.Code = eb.Error.Code
		ue.Message = eb.Error.Message
	}
	return ue
}

func newTransportError(op string, err error) *UpstreamError {
	return &UpstreamError{Operation: op, Message: err.Error(), Err: err}
}

// outcome labels a call result for metrics: the status code, or a transport
// failure class.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.StatusCode > 0 {
		return strconv.Itoa(ue.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	return "other"
}
