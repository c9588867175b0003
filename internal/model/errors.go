package model

import "errors"

// Common errors used across the application
var (
	// Queue errors
	ErrQueueEmpty = errors.New("waiting queue is empty")

	// Session errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrNotInSession     = errors.New("participant is not in session")
)
