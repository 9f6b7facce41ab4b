package repository

import "errors"

var (
	// ErrInvalidTransition is returned when a status update finds the row
	// in a state the transition is not allowed from.
	ErrInvalidTransition = errors.New("post is not in a state that allows this transition")
)
