package automation

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("automation: no store configured")
	ErrStoreClosed     = errors.New("automation: store closed")
	ErrMigrationFailed = errors.New("automation: migration failed")

	// Not found errors.
	ErrRunNotFound        = errors.New("automation: workflow run not found")
	ErrDefinitionNotFound = errors.New("automation: workflow definition not found")

	// Conflict errors.
	ErrRunAlreadyExists  = errors.New("automation: workflow run already exists")
	ErrDuplicateStep     = errors.New("automation: duplicate step id in definition")
	ErrDuplicateIntent   = errors.New("automation: intent name already bound")
	ErrDuplicateRule     = errors.New("automation: bridge rule already registered for event")
	ErrLeaseHeld         = errors.New("automation: lease held by another worker")
	ErrConflict          = errors.New("automation: run modified concurrently")

	// State errors.
	ErrInvalidState       = errors.New("automation: invalid run state transition")
	ErrRunTerminal        = errors.New("automation: run is in a terminal state")
	ErrMaxRetriesExceeded = errors.New("automation: max retries exceeded")
)
