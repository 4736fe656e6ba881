package backend

import "fmt"

const (
	CodeHTTPStatus = "http_status"
	CodeTransport  = "transport"
	CodeDecode     = "decode"
)

// SendError reports a backend call that failed or returned a non-success
// status. StatusCode is zero when no response was received.
type SendError struct {
	Code       string
	StatusCode int
	Detail     string
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("backend http status %d: %s", e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("backend %s error: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("backend %s error: %s", e.Code, e.Detail)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// Retryable tells clients whether resubmitting could help. The service never
// retries on its own.
func (e *SendError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Code == CodeTransport
	}
	return IsRetryableHTTPStatus(e.StatusCode)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
