package entity

import "errors"

var (
	// Message errors
	ErrOrphanToolResponse = errors.New("tool response without matching assistant tool call")
	ErrInvalidSessionID   = errors.New("invalid session id")

	// Steering errors
	ErrSteeringClosed = errors.New("steering inbox closed")
)
