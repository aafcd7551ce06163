// Package errors provides structured error types for svgbatch.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for svgbatch.
const (
	// Task errors
	CodeTaskNotFound      Code = "TASK_NOT_FOUND"
	CodeTaskAlreadyExists Code = "TASK_ALREADY_EXISTS"

	// Job errors
	CodeJobNotFound    Code = "JOB_NOT_FOUND"
	CodeJobUnknownType Code = "JOB_UNKNOWN_TYPE"

	// Database errors
	CodeCapacityExhausted Code = "DB_CAPACITY_EXHAUSTED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for boundary mapping (HTTP handlers, CLI
// exit codes). The handlers themselves live outside this repository.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryConflict
	CategoryUnavailable
	CategoryBadRequest
)

var codeCategories = map[Code]Category{
	CodeTaskNotFound:      CategoryNotFound,
	CodeTaskAlreadyExists: CategoryConflict,
	CodeJobNotFound:       CategoryNotFound,
	CodeJobUnknownType:    CategoryBadRequest,
	CodeCapacityExhausted: CategoryUnavailable,
	CodeConfigInvalid:     CategoryBadRequest,
}

// BatchError is the structured error type for svgbatch.
type BatchError struct {
	Code  Code
	What  string
	Why   string
	Cause error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *BatchError) Unwrap() error {
	return e.Cause
}

// Category returns the error category for boundary mapping.
func (e *BatchError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// Is reports whether target is a BatchError with the same code.
func (e *BatchError) Is(target error) bool {
	t, ok := target.(*BatchError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *BatchError) WithCause(err error) *BatchError {
	return &BatchError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *BatchError {
	return &BatchError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this ID exists in the store",
	}
}

// ErrTaskAlreadyExists returns an error when a non-terminal task already
// holds the same normalized title.
func ErrTaskAlreadyExists(title string) *BatchError {
	return &BatchError{
		Code: CodeTaskAlreadyExists,
		What: fmt.Sprintf("task %q already exists", title),
		Why:  "Another task with the same normalized title is still in progress",
	}
}

// ErrJobNotFound returns an error when a job record is missing or was
// deleted out from under a worker.
func ErrJobNotFound(id int64, jobType string) *BatchError {
	return &BatchError{
		Code: CodeJobNotFound,
		What: fmt.Sprintf("job %d (%s) not found", id, jobType),
		Why:  "No job row matched the (id, job_type) pair; it may have been deleted",
	}
}

// ErrJobUnknownType returns an error for a job type outside the
// dispatcher's registry.
func ErrJobUnknownType(jobType string) *BatchError {
	return &BatchError{
		Code: CodeJobUnknownType,
		What: fmt.Sprintf("unknown job type %q", jobType),
		Why:  "Only registered job types can be dispatched",
	}
}

// ErrCapacityExhausted returns an error when the database refuses new
// connections even after retries.
func ErrCapacityExhausted() *BatchError {
	return &BatchError{
		Code: CodeCapacityExhausted,
		What: "database connection capacity exhausted",
		Why:  "The server reported too many connections after all retry attempts",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *BatchError {
	return &BatchError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
	}
}

// AsBatchError attempts to convert an error to a BatchError.
// Returns nil if the error is not a BatchError.
func AsBatchError(err error) *BatchError {
	var be *BatchError
	if stderrors.As(err, &be) {
		return be
	}
	return nil
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
