// Package handler defines the per-entity-kind extension point invoked by the
// backup and restore processors, plus the concrete handlers for the built-in
// entity kinds.
//
// The processors own the uniform work: the envelope metadata actor is
// translated before a handler sees the event, and the stream id is remapped
// when the rewritten envelope is appended. Handlers own the payload: every
// entity id and user reference embedded inside an event payload must be
// rewritten through the capabilities on RestoreContext, and any side effect
// (like re-uploading an asset binary) happens here. During restore a handler
// sees the source stream id, which is how the asset handler locates archive
// attachments keyed by source asset ids.
package handler

import (
	"context"
	"io"
	"time"

	"eventvault/internal/blob"
	"eventvault/internal/event"
	"eventvault/internal/logging"
	"eventvault/internal/remap"
)

// AttachmentWriter is the archive-side capability handed to handlers during
// backup.
type AttachmentWriter interface {
	WriteAttachment(key string, r io.Reader) error
}

// AttachmentReader is the archive-side capability handed to handlers during
// restore.
type AttachmentReader interface {
	ReadAttachment(key string) (io.ReadCloser, error)
}

// BackupContext carries the capabilities available to handlers during one
// backup job.
type BackupContext struct {
	AppID       string
	Attachments AttachmentWriter
	Assets      blob.Store
	Logger      *logging.Logger

	// AttachmentRetries bounds retries of transient attachment copy
	// failures before they become fatal.
	AttachmentRetries int

	// AttachmentsCopied counts attachment side effects for job progress.
	AttachmentsCopied int64
}

// RestoreContext carries the capabilities available to handlers during one
// restore job. Guids and Users are owned by exactly this job.
type RestoreContext struct {
	AppID       string
	Guids       *remap.GuidMapper
	Users       *remap.UserMapping
	Attachments AttachmentReader
	Assets      blob.Store
	Logger      *logging.Logger

	AttachmentRetries int
	AttachmentsCopied int64
}

// Handler adapts one entity kind's events during backup and restore.
type Handler interface {
	// Kind returns the entity-kind tag this handler serves.
	Kind() string

	// BackupEvent is called during export for every event of this kind. It
	// may write extra attachments through the context but must not mutate
	// the envelope.
	BackupEvent(ctx context.Context, env event.Envelope, bc *BackupContext) error

	// RestoreEvent is called during import for every event of this kind. It
	// returns the envelope with every embedded entity id remapped through
	// GuidMapper and every embedded user reference through UserMapping, and
	// performs the kind's side effects.
	RestoreEvent(ctx context.Context, env event.Envelope, rc *RestoreContext) (event.Envelope, error)

	// CompleteBackup is called once per job after the event pass.
	CompleteBackup(ctx context.Context, bc *BackupContext) error

	// CompleteRestore is called once per job after the event pass.
	CompleteRestore(ctx context.Context, rc *RestoreContext) error
}

// copyWithRetry runs a transient-failure-prone attachment copy up to
// retries+1 times with a short linear backoff.
func copyWithRetry(ctx context.Context, retries int, copyFn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		if err = copyFn(); err == nil {
			return nil
		}
	}
	return err
}
