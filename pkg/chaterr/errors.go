// Package chaterr defines the errors commands can fail with. Callers match
// them with errors.Is; more specific errors wrap the general kind.
package chaterr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)

	ErrNotParticipant = errors.New("not a participant")
	ErrNotOwner       = errors.New("not the owner")

	ErrInvalidState = errors.New("invalid state")
	ErrDeleted      = fmt.Errorf("message deleted: %w", ErrInvalidState)

	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransportUnavailable means a broadcast target has no live
	// connection. It is a no-op for callers and is never surfaced.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// Invalid wraps ErrInvalidArgument with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// HTTPStatus maps a command error to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
