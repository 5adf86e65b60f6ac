package muxloop

import (
	"errors"

	"github.com/tkarvone/gsmmuxd/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrSerialRead    = errors.New("serial_read")
	ErrSerialWrite   = errors.New("serial_write")
	ErrEndpointRead  = errors.New("endpoint_read")
	ErrEndpointWrite = errors.New("endpoint_write")
	ErrEndpointRetry = errors.New("endpoint_write_retry_exhausted")
	ErrReopenFailed  = errors.New("endpoint_reopen_failed")
	ErrPoll          = errors.New("poll")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrSerialRead):
		return metrics.ErrSerialRead
	case errors.Is(err, ErrSerialWrite):
		return metrics.ErrSerialWrite
	case errors.Is(err, ErrEndpointRead):
		return metrics.ErrEndpointRead
	case errors.Is(err, ErrEndpointWrite), errors.Is(err, ErrReopenFailed):
		return metrics.ErrEndpointWrite
	case errors.Is(err, ErrEndpointRetry):
		return metrics.ErrEndpointRetry
	case errors.Is(err, ErrPoll):
		return metrics.ErrPollFailure
	default:
		return "other"
	}
}
