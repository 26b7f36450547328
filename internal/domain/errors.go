package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProgramNotFound indicates a referenced program does not exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrConcurrentClaim indicates another writer changed the program first.
	// The program keeps its persisted state and is retried on the next tick.
	ErrConcurrentClaim = errors.New("concurrent claim conflict")

	// ErrIllegalTransition indicates a lifecycle transition that is not allowed.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrInvalidEvent indicates a weather event that cannot be decoded or validated.
	ErrInvalidEvent = errors.New("invalid weather change event")
)

// TransientExecutionError wraps a failure raised after a program was claimed.
// The program has been released back to scheduled by the time it is returned.
type TransientExecutionError struct {
	ProgramID int64
	Err       error
}

func (e *TransientExecutionError) Error() string {
	return fmt.Sprintf("execution of program %d failed: %v", e.ProgramID, e.Err)
}

func (e *TransientExecutionError) Unwrap() error {
	return e.Err
}

// EventProcessingError wraps a failure to apply a weather change event.
type EventProcessingError struct {
	StationID int64
	Severity  Severity
	Err       error
}

func (e *EventProcessingError) Error() string {
	return fmt.Sprintf("process %s event for station %d: %v", e.Severity, e.StationID, e.Err)
}

func (e *EventProcessingError) Unwrap() error {
	return e.Err
}
