package commands

import "errors"

var (
	// ErrNotFound indicates a missing command or bulk operation record.
	ErrNotFound = errors.New("command: not found")
	// ErrUnknownType indicates a command type outside the vocabulary.
	ErrUnknownType = errors.New("unknown command type")
	// ErrInvalidTransition indicates a lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("command: invalid status transition")
	// ErrValidation indicates a request rejected before any persistence.
	ErrValidation = errors.New("command: validation failed")
)
