package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"eventvault/internal/archive"
	"eventvault/internal/handler"
)

func TestEngineErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("failed to persist job", cause).
		WithContext("job_id", "j1")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "STORAGE_ERROR")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "j1", err.Context["job_id"])
	assert.True(t, IsType(err, EngineErrorTypeStorage))
	assert.False(t, IsType(err, EngineErrorTypeFormat))
	assert.False(t, IsType(cause, EngineErrorTypeStorage))
}

func TestEngineErrorRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       *EngineError
		retryable bool
	}{
		{"attachment io", NewAttachmentIOError("copy failed", nil), true},
		{"storage", NewStorageError("put failed", nil), true},
		{"format", NewFormatError("bad archive", nil), false},
		{"handler", NewHandlerError("handler failed", nil), false},
		{"closed archive", NewClosedArchiveError("write after close", nil), false},
		{"validation", NewValidationError("bad job", nil), false},
		{"already running", NewAlreadyRunningError("app app-1"), false},
		{"cancelled", NewCancelledError("job cancelled"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
			assert.Equal(t, !tt.retryable, tt.err.IsPermanent())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want EngineErrorType
	}{
		{"engine error passes through", NewHandlerError("x", nil), EngineErrorTypeHandler},
		{"format", archive.NewFormatError("truncated", nil), EngineErrorTypeFormat},
		{"closed archive", &archive.ClosedArchiveError{Operation: "WriteEvent"}, EngineErrorTypeClosedArchive},
		{"missing attachment", &archive.AttachmentNotFoundError{Key: "a"}, EngineErrorTypeAttachmentIO},
		{"unknown kind", &handler.UnknownKindError{Kind: "workflow"}, EngineErrorTypeHandler},
		{"cancellation", context.Canceled, EngineErrorTypeCancelled},
		{"deadline", context.DeadlineExceeded, EngineErrorTypeCancelled},
		{"anything else", errors.New("boom"), EngineErrorTypeStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err).Type)
		})
	}
}
