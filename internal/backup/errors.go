package backup

import (
	"context"
	"errors"
	"fmt"

	"eventvault/internal/archive"
	"eventvault/internal/handler"
)

// EngineError represents errors raised by backup and restore jobs.
type EngineError struct {
	Type    EngineErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// EngineErrorType represents different classes of engine errors
type EngineErrorType string

const (
	EngineErrorTypeFormat         EngineErrorType = "FORMAT_ERROR"
	EngineErrorTypeAlreadyRunning EngineErrorType = "ALREADY_RUNNING_ERROR"
	EngineErrorTypeClosedArchive  EngineErrorType = "CLOSED_ARCHIVE_ERROR"
	EngineErrorTypeHandler        EngineErrorType = "HANDLER_ERROR"
	EngineErrorTypeAttachmentIO   EngineErrorType = "ATTACHMENT_IO_ERROR"
	EngineErrorTypeCancelled      EngineErrorType = "CANCELLED_ERROR"
	EngineErrorTypeValidation     EngineErrorType = "VALIDATION_ERROR"
	EngineErrorTypeStorage        EngineErrorType = "STORAGE_ERROR"
	EngineErrorTypeNotFound       EngineErrorType = "NOT_FOUND_ERROR"
)

// NewEngineError creates a new EngineError
func NewEngineError(errorType EngineErrorType, message string, cause error) *EngineError {
	return &EngineError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewFormatError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeFormat, message, cause)
}

func NewAlreadyRunningError(scope string) *EngineError {
	return NewEngineError(EngineErrorTypeAlreadyRunning,
		fmt.Sprintf("a job is already running for %s", scope), nil)
}

func NewClosedArchiveError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeClosedArchive, message, cause)
}

func NewHandlerError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeHandler, message, cause)
}

func NewAttachmentIOError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeAttachmentIO, message, cause)
}

func NewCancelledError(message string) *EngineError {
	return NewEngineError(EngineErrorTypeCancelled, message, nil)
}

func NewValidationError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeValidation, message, cause)
}

func NewStorageError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeStorage, message, cause)
}

func NewNotFoundError(message string, cause error) *EngineError {
	return NewEngineError(EngineErrorTypeNotFound, message, cause)
}

// IsRetryable returns true if the error might succeed on retry
func (e *EngineError) IsRetryable() bool {
	switch e.Type {
	case EngineErrorTypeAttachmentIO, EngineErrorTypeStorage:
		return true
	default:
		return false
	}
}

// IsPermanent returns true if the error will not succeed on retry
func (e *EngineError) IsPermanent() bool {
	return !e.IsRetryable()
}

// IsType reports whether err is an EngineError of the given type.
func IsType(err error, errorType EngineErrorType) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type == errorType
	}
	return false
}

// classify maps errors surfaced by collaborators into the engine taxonomy so
// job logs and status fields carry a stable error class.
func classify(err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	var formatErr *archive.FormatError
	if errors.As(err, &formatErr) {
		return NewFormatError("archive format failure", err)
	}
	var closedErr *archive.ClosedArchiveError
	if errors.As(err, &closedErr) {
		return NewClosedArchiveError("archive used after close", err)
	}
	var attachErr *archive.AttachmentNotFoundError
	if errors.As(err, &attachErr) {
		return NewAttachmentIOError("attachment is missing from the archive", err)
	}
	var kindErr *handler.UnknownKindError
	if errors.As(err, &kindErr) {
		return NewHandlerError("no handler for entity kind", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCancelledError("job cancelled")
	}

	return NewStorageError("job failed", err)
}
