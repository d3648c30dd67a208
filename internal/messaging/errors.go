package messaging

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the engine. Callers classify with errors.Is; the safe
// message is the sentinel text plus whatever wrap added, never a raw store
// error.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrTimeout          = errors.New("operation timed out")
	ErrInternal         = errors.New("internal error")
)

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// classify folds store failures into the taxonomy. Deadline expiry becomes
// Timeout so callers know a retry is safe; anything unrecognized is Internal
// with the cause kept in the chain for logs only.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidOperation), errors.Is(err, ErrTimeout):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

// SafeMessage maps an engine error to a string suitable for untrusted
// callers. Internal causes are collapsed to a generic message.
func SafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInternal):
		return "internal error"
	default:
		return err.Error()
	}
}
