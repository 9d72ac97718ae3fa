package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmptyReply is returned when the service answered without any text.
var ErrEmptyReply = errors.New("ai service returned no text")

// StatusError carries the HTTP status of a failed AI service call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ai service status %d", e.StatusCode)
	}
	return fmt.Sprintf("ai service status %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a 429 from the AI service.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx, timeouts, network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
