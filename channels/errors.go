package channels

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned on send when the bot token or the destination
// chat is missing. Credentials are not validated at startup, so this is the
// first place a misconfiguration shows up.
var ErrNotConfigured = errors.New("channels: telegram bot token or chat id not configured")

// ErrSendFailed is returned when a message could not be delivered to the
// platform, either because the request failed or because the platform
// answered with a non-2xx status.
type ErrSendFailed struct {
	Platform string
	Method   string // API method, e.g. "sendPhoto"
	Status   int    // HTTP status, 0 on transport errors
	Body     string // truncated response body
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("channels: %s %s failed: status %d: %s", e.Platform, e.Method, e.Status, e.Body)
	}
	return fmt.Sprintf("channels: %s %s failed: %v", e.Platform, e.Method, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
