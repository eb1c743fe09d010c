package capture

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"vidrelay/internal/core/domain"
)

// classify maps a transport error onto the read classification: deadline
// expiry is a timeout, EAGAIN and EINTR are transient, anything else ends
// the session.
func classify(op string, err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%s: %w: %w", op, err, domain.ErrTimeout)
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		return fmt.Errorf("%s: %w: %w", op, err, domain.ErrTransient)
	default:
		return fmt.Errorf("%s: %w: %w", op, err, domain.ErrFatal)
	}
}
