package appointment

import (
	"errors"
	"fmt"

	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("scheduling conflict")
	ErrNotFound   = errors.New("appointment not found")

	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
	ErrPastStartTime           = fmt.Errorf("%w: start_time is in the past", ErrValidation)

	// ErrStaleWrite means the stored appointment changed after it was read.
	ErrStaleWrite = fmt.Errorf("%w: appointment was modified concurrently", ErrConflict)
)

// Kind classifies an error for callers that branch on outcome.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindDispatch
	KindRepository
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindDispatch:
		return "dispatch"
	}
	return "error"
}

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, notification.ErrDispatch):
		return KindDispatch
	}
	return KindRepository
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
