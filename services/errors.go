package services

import (
	"errors"
	"fmt"
)

// ErrorKind groups pipeline failures by how they are handled.
type ErrorKind string

const (
	// ErrExtraction never escapes: misses resolve to defaults.
	ErrExtraction ErrorKind = "extraction"
	// ErrCollaborator is absorbed at the narrowest scope with a placeholder.
	ErrCollaborator ErrorKind = "collaborator"
	// ErrPersistence aborts the message and is returned to the caller.
	ErrPersistence ErrorKind = "persistence"
	// ErrNotification aborts the message and is returned to the caller.
	ErrNotification ErrorKind = "notification"
	// ErrInitialization means a transport could not be brought up.
	ErrInitialization ErrorKind = "initialization"
)

// ErrScanBusy is reported in a status event when a sweep is already running.
var ErrScanBusy = errors.New("scan already in progress")

// PipelineError is a failure of one ingestion step.
type PipelineError struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func stepError(kind ErrorKind, step string, err error) error {
	return &PipelineError{Kind: kind, Step: step, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "" if none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
