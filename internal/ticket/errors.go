package ticket

import "errors"

var (
	// ErrTicketNotFound is returned when a ticket does not exist.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrVersionConflict is returned when a conditional commit lost the
	// race: the stored version no longer matches the snapshot. Retryable.
	ErrVersionConflict = errors.New("ticket version conflict")

	// ErrInvalidTicket is returned for structurally invalid tickets or
	// patches. Terminal, never retried.
	ErrInvalidTicket = errors.New("invalid ticket")
)
