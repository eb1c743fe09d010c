package domain

import "errors"

// Read/transport classification. Sources wrap their errors with one of the
// first three so the capture policy can decide between retry, backoff and
// reconnect.
var (
	ErrTimeout   = errors.New("timeout")
	ErrTransient = errors.New("resource temporarily unavailable")
	ErrFatal     = errors.New("fatal i/o error")

	ErrWouldBlock       = errors.New("would block")
	ErrEndOfStream      = errors.New("end of stream")
	ErrCodecUnavailable = errors.New("codec unavailable")
	ErrStopped          = errors.New("pipeline stopped")
	ErrNotConnected     = errors.New("not connected")
	ErrUnsupportedURL   = errors.New("unsupported locator")
	ErrInvalidFrame     = errors.New("invalid frame")
)

// IsTimeout, IsTransient and IsFatal are shorthands for errors.Is against
// the read classification sentinels.
func IsTimeout(err error) bool   { return errors.Is(err, ErrTimeout) }
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
func IsFatal(err error) bool     { return errors.Is(err, ErrFatal) }
