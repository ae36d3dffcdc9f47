package engine

import (
	"errors"
	"fmt"
)

// Not-found and concurrency-race errors. Cancel races are surfaced
// distinctly so clients refresh state instead of retrying blindly.
var (
	ErrEntryNotFound       = errors.New("engine: entry not found")
	ErrOrderNotFound       = errors.New("engine: order not found")
	ErrPositionNotFound    = errors.New("engine: position not found")
	ErrCompetitionNotFound = errors.New("engine: competition not found")
	ErrInstrumentNotFound  = errors.New("engine: instrument not found")
	ErrAlreadyFilled       = errors.New("engine: order already filled")
	ErrAlreadyCancelled    = errors.New("engine: order already cancelled")
)

// ValidationError rejects a request synchronously with no state change.
// The reason is a specific, client-actionable message.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "engine: invalid request: " + e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
