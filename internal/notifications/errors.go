package notifications

import (
	"errors"
	"fmt"
)

// Dispatch errors. These never leave the dispatcher; they are logged
// and recorded in the per-channel outcome summary.
var (
	ErrChannelTimeout = errors.New("channel call timed out")
)

// ChannelError wraps a failure from a single channel, preserving
// which channel it came from.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx HTTP response from a channel endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
