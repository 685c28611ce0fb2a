package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"eventvault/internal/archive"
	"eventvault/internal/blob"
	"eventvault/internal/event"
	"eventvault/internal/handler"
	"eventvault/internal/logging"
	"eventvault/internal/remap"
	"eventvault/internal/users"
)

// RestoreOptions tunes one restore run on top of the shared processor
// options.
type RestoreOptions struct {
	ProcessorOptions

	// PreserveIdentity keeps source entity ids unchanged, for same-system
	// re-import of an app that was deleted. Without it every restore creates
	// entities under fresh ids.
	PreserveIdentity bool
}

// RestoreProcessor drives one restore run: it pulls the archive from the
// archive store, replays the journal in original commit order through the
// remappers and entity handlers, and appends the rewritten events to the
// live event store. One instance serves one job.
type RestoreProcessor struct {
	events    event.Store
	assets    blob.Store
	archives  blob.Store
	apps      AppDirectory
	directory users.Directory
	ledger    *JobLedger
	registry  *handler.Registry
	logger    *logging.Logger
	opts      RestoreOptions
}

// NewRestoreProcessor creates a restore processor.
func NewRestoreProcessor(
	events event.Store,
	assets blob.Store,
	archives blob.Store,
	apps AppDirectory,
	directory users.Directory,
	ledger *JobLedger,
	registry *handler.Registry,
	logger *logging.Logger,
	opts RestoreOptions,
) *RestoreProcessor {
	opts.setDefaults()
	return &RestoreProcessor{
		events:    events,
		assets:    assets,
		archives:  archives,
		apps:      apps,
		directory: directory,
		ledger:    ledger,
		registry:  registry,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes the restore job to a terminal status. Restore is all or
// nothing at the job level: any handler or storage failure fails the whole
// job, and a partially created target app is flagged incomplete rather than
// left indistinguishable from a successful restore.
func (p *RestoreProcessor) Run(ctx context.Context, job *RestoreJob) error {
	started := time.Now()
	runErr := p.run(ctx, job)

	now := time.Now().UTC()
	job.StoppedAt = &now
	if runErr != nil {
		engineErr := classify(runErr)
		job.Status = JobStatusFailed
		job.AddLog("restore failed: %s", engineErr.Error())

		if job.TargetAppID != "" {
			if err := p.apps.FlagIncomplete(context.WithoutCancel(ctx), job.TargetAppID, engineErr.Error()); err != nil {
				p.logger.Errorf("failed to flag app %s as restore incomplete: %v", job.TargetAppID, err)
			} else {
				job.AddLog("app %s flagged as restore incomplete", job.TargetAppID)
			}
		}
	} else {
		job.Status = JobStatusCompleted
		job.AddLog("restore completed: %d events, %d attachments", job.HandledEvents, job.HandledAttachments)
	}

	if err := p.ledger.SaveRestoreJob(context.WithoutCancel(ctx), job); err != nil {
		p.logger.Errorf("failed to persist terminal restore job state: %v", err)
	}

	p.logger.LogJobCompletion("restore", job.ID, job.HandledEvents, job.HandledAttachments, time.Since(started), runErr)
	if runErr != nil {
		return classify(runErr)
	}
	return nil
}

func (p *RestoreProcessor) run(ctx context.Context, job *RestoreJob) error {
	job.AddLog("restore started from %s", job.SourceArchiveKey)
	if err := p.ledger.SaveRestoreJob(ctx, job); err != nil {
		return err
	}

	stagePath, err := p.fetchArchive(ctx, job)
	if err != nil {
		return err
	}
	defer os.Remove(stagePath)

	reader, err := archive.Open(stagePath, archive.ReaderOptions{Passphrase: p.opts.Passphrase})
	if err != nil {
		return err
	}
	defer reader.Close()

	manifest := reader.Manifest()
	targetAppID, err := p.apps.Create(ctx, manifest.App)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to create target app for %q", manifest.App.Name), err)
	}
	job.TargetAppID = targetAppID
	job.AddLog("created target app %s from archive of app %q", targetAppID, manifest.App.Name)
	if err := p.ledger.SaveRestoreJob(ctx, job); err != nil {
		return err
	}

	guids := remap.NewGuidMapper(p.opts.PreserveIdentity)
	userMapping := remap.NewUserMapping(p.directory, func(message string) {
		job.AddLog("%s", message)
	})

	rc := &handler.RestoreContext{
		AppID:             targetAppID,
		Guids:             guids,
		Users:             userMapping,
		Attachments:       reader,
		Assets:            p.assets,
		Logger:            p.logger,
		AttachmentRetries: p.opts.AttachmentRetries,
	}

	if err := p.eventPass(ctx, job, reader, rc); err != nil {
		return err
	}

	for _, h := range p.registry.All() {
		if err := h.CompleteRestore(ctx, rc); err != nil {
			return NewHandlerError(fmt.Sprintf("handler %s failed to complete restore", h.Kind()), err)
		}
	}
	job.HandledAttachments = rc.AttachmentsCopied
	return nil
}

// fetchArchive spools the archive blob to a local file. The container needs
// random access for its central directory, so it cannot be read straight off
// the blob stream.
func (p *RestoreProcessor) fetchArchive(ctx context.Context, job *RestoreJob) (string, error) {
	src, err := p.archives.Get(ctx, job.SourceArchiveKey)
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to fetch archive %s", job.SourceArchiveKey), err)
	}
	defer src.Close()

	stagePath := filepath.Join(p.opts.TempDir, fmt.Sprintf("eventvault-restore-%s.zip", job.ID))
	dst, err := os.Create(stagePath)
	if err != nil {
		return "", NewStorageError("failed to stage archive", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(stagePath)
		return "", NewStorageError("failed to stage archive", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(stagePath)
		return "", NewStorageError("failed to stage archive", err)
	}
	return stagePath, nil
}

// eventPass replays the journal. For every envelope the metadata actor is
// translated, the kind handler rewrites the payload and performs its side
// effects, and the result is appended under the remapped stream id. Handlers
// see the source stream id so they can find archive attachments keyed by
// source ids. Commit order is preserved, so later cross-entity references
// land on already-remapped entities.
func (p *RestoreProcessor) eventPass(ctx context.Context, job *RestoreJob, reader *archive.Reader, rc *handler.RestoreContext) error {
	it, err := reader.Events()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		env := it.Envelope()
		sid, err := env.StreamID()
		if err != nil {
			return NewFormatError("malformed stream id in journal", err)
		}

		h, err := p.registry.Resolve(sid.Kind)
		if err != nil {
			return err
		}

		env.Metadata.AppID = job.TargetAppID
		if env.Metadata.Actor != "" {
			actor, err := rc.Users.MapUser(ctx, env.Metadata.Actor)
			if err != nil {
				return NewStorageError("failed to resolve event actor", err)
			}
			env.Metadata.Actor = actor
		}

		rewritten, err := h.RestoreEvent(ctx, env, rc)
		if err != nil {
			return NewHandlerError(fmt.Sprintf("handler %s failed on stream %s event %d", sid.Kind, env.Stream, env.EventNumber), err)
		}

		newStream := event.StreamID{Kind: sid.Kind, ID: rc.Guids.NewID(sid.ID)}
		rewritten.Stream = newStream.String()

		if err := p.events.Append(ctx, rewritten.Stream, rewritten); err != nil {
			return NewStorageError(fmt.Sprintf("failed to append to stream %s", rewritten.Stream), err)
		}

		job.HandledEvents++
		job.HandledAttachments = rc.AttachmentsCopied
		if job.HandledEvents%p.opts.ProgressInterval == 0 {
			if err := p.ledger.SaveRestoreJob(ctx, job); err != nil {
				return err
			}
			p.logger.LogRestoreProgress(job.ID, job.HandledEvents, job.HandledAttachments)
		}
	}
	return it.Err()
}
