// Package errors defines the failure taxonomy shared by the phrase pipeline
// and the job service. Pipeline failures carry the stage they occurred in and
// the underlying cause, so callers can match on either with errors.Is.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInputUnavailable = errors.New("input unavailable")
	ErrMalformedRecord  = errors.New("malformed record")
	ErrStorageWrite     = errors.New("storage write failure")
	ErrStorageRead      = errors.New("storage read failure")
	ErrCancelled        = errors.New("run cancelled")
	ErrInvalidInput     = errors.New("invalid input")
	ErrJobNotFound      = errors.New("job not found")
	ErrInternal         = errors.New("internal error")
)

// Stage identifies the pipeline step a failure surfaced in.
type Stage string

const (
	StageAggregate Stage = "AGGREGATE"
	StageSplit     Stage = "SPLIT"
	StageMerge     Stage = "MERGE"
	StageReduce    Stage = "REDUCE"
)

// PipelineError is a fatal pipeline failure. Kind is one of the sentinels
// above; Err is the underlying cause and may be nil.
type PipelineError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New wraps cause as a PipelineError of the given stage and kind. A cause
// that already wraps ErrMalformedRecord keeps that kind, and context
// cancellation is always reported as ErrCancelled. An error that is already a
// PipelineError is returned unchanged so the innermost stage wins.
func New(stage Stage, kind error, cause error) error {
	var pe *PipelineError
	if errors.As(cause, &pe) {
		return cause
	}
	switch {
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		kind = ErrCancelled
	case errors.Is(cause, ErrMalformedRecord):
		kind = ErrMalformedRecord
	}
	return &PipelineError{Stage: stage, Kind: kind, Err: cause}
}

// Newf is New with a formatted cause.
func Newf(stage Stage, kind error, format string, args ...any) error {
	return &PipelineError{Stage: stage, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// StageOf returns the stage recorded in err, or "" if err is not a
// PipelineError.
func StageOf(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// HTTPStatusCode maps err to the status code reported to API callers.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInputUnavailable), errors.Is(err, ErrMalformedRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
