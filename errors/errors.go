package errors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrNotFound          = fmt.Errorf("not found")
	ErrInvalidRequest    = fmt.Errorf("invalid request")
	ErrDeliveryFailure   = fmt.Errorf("delivery failure")
	ErrConnectionClosed  = fmt.Errorf("connection closed")
	ErrSessionClosed     = fmt.Errorf("session closed")
	ErrNotRegistered     = fmt.Errorf("session not registered")
	ErrAlreadyRegistered = fmt.Errorf("session already registered")
)

// Is is errors.Is, re-exported so callers importing this package
// under the name "errors" keep access to it.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MapToHTTPStatus translates a core error into the status code the
// query surface reports.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNotRegistered), errors.Is(err, ErrAlreadyRegistered):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
