package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eventvault/internal/archive"
	"eventvault/internal/blob"
	"eventvault/internal/event"
	"eventvault/internal/handler"
	"eventvault/internal/logging"
)

// ProcessorOptions tunes both processors.
type ProcessorOptions struct {
	// Codec selects the journal compression codec.
	Codec archive.CodecType

	// CodecLevel overrides the codec's default compression level when
	// non-zero.
	CodecLevel int

	// Passphrase enables journal encryption when non-empty.
	Passphrase string

	// AttachmentRetries bounds retries of transient attachment copies.
	AttachmentRetries int

	// ProgressInterval is the number of events between ledger flushes.
	ProgressInterval int64

	// TempDir overrides the staging directory for archives in flight.
	TempDir string
}

func (o *ProcessorOptions) setDefaults() {
	if o.Codec == "" {
		o.Codec = archive.CodecGzip
	}
	if o.AttachmentRetries <= 0 {
		o.AttachmentRetries = 3
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 100
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
}

// Processor drives one backup run: it streams the app's events through an
// archive writer, dispatches entity handlers, uploads the finalized archive
// and keeps the ledger record current. One processor instance serves one job.
type Processor struct {
	events   event.Store
	assets   blob.Store
	archives blob.Store
	apps     AppDirectory
	ledger   *JobLedger
	registry *handler.Registry
	logger   *logging.Logger
	opts     ProcessorOptions
}

// NewProcessor creates a backup processor.
func NewProcessor(
	events event.Store,
	assets blob.Store,
	archives blob.Store,
	apps AppDirectory,
	ledger *JobLedger,
	registry *handler.Registry,
	logger *logging.Logger,
	opts ProcessorOptions,
) *Processor {
	opts.setDefaults()
	return &Processor{
		events:   events,
		assets:   assets,
		archives: archives,
		apps:     apps,
		ledger:   ledger,
		registry: registry,
		logger:   logger,
		opts:     opts,
	}
}

// ArchiveKeyFor returns the blob-store key a job's archive is uploaded to.
func ArchiveKeyFor(appID, jobID string) string {
	return fmt.Sprintf("archives/%s/%s.zip", appID, jobID)
}

// Run executes the backup job to a terminal status. Every failure is caught,
// written into the job log and persisted as status Failed; the returned error
// mirrors the terminal failure for the supervising service.
func (p *Processor) Run(ctx context.Context, job *BackupJob) error {
	started := time.Now()
	runErr := p.run(ctx, job)

	now := time.Now().UTC()
	job.StoppedAt = &now
	if runErr != nil {
		engineErr := classify(runErr)
		job.Status = JobStatusFailed
		job.AddLog("backup failed: %s", engineErr.Error())
	} else {
		job.Status = JobStatusCompleted
		job.AddLog("backup completed: %d events, %d attachments", job.HandledEvents, job.HandledAttachments)
	}

	// Terminal status is written with a fresh context so cancellation of the
	// run cannot leave the ledger showing the job as Running.
	if err := p.ledger.SaveBackupJob(context.WithoutCancel(ctx), job); err != nil {
		p.logger.Errorf("failed to persist terminal backup job state: %v", err)
	}

	p.logger.LogJobCompletion("backup", job.ID, job.HandledEvents, job.HandledAttachments, time.Since(started), runErr)
	if runErr != nil {
		return classify(runErr)
	}
	return nil
}

func (p *Processor) run(ctx context.Context, job *BackupJob) error {
	appMeta, err := p.apps.Get(ctx, job.AppID)
	if err != nil {
		return NewValidationError(fmt.Sprintf("app %s not found", job.AppID), err)
	}

	job.AddLog("backup started for app %s", job.AppID)
	if err := p.ledger.SaveBackupJob(ctx, job); err != nil {
		return err
	}

	stagePath := filepath.Join(p.opts.TempDir, fmt.Sprintf("eventvault-backup-%s.zip", job.ID))
	defer os.Remove(stagePath)

	writer, err := archive.NewWriter(stagePath, archive.WriterOptions{
		App:        appMeta,
		Codec:      p.opts.Codec,
		CodecLevel: p.opts.CodecLevel,
		Passphrase: p.opts.Passphrase,
	})
	if err != nil {
		return err
	}

	bc := &handler.BackupContext{
		AppID:             job.AppID,
		Attachments:       writer,
		Assets:            p.assets,
		Logger:            p.logger,
		AttachmentRetries: p.opts.AttachmentRetries,
	}

	if err := p.eventPass(ctx, job, writer, bc); err != nil {
		writer.Abort()
		return err
	}

	for _, h := range p.registry.All() {
		if err := h.CompleteBackup(ctx, bc); err != nil {
			writer.Abort()
			return NewHandlerError(fmt.Sprintf("handler %s failed to complete backup", h.Kind()), err)
		}
	}
	job.HandledAttachments = bc.AttachmentsCopied

	if err := writer.Close(); err != nil {
		return err
	}
	job.AddLog("archive finalized: %d events, %d attachments", writer.EventCount(), writer.AttachmentCount())

	if err := p.upload(ctx, job, stagePath); err != nil {
		return err
	}
	job.AddLog("archive uploaded to %s", job.ArchiveKey)
	return nil
}

// eventPass streams every event of the app through the writer and the
// matching handler, flushing progress periodically so a crash leaves an
// accurate partial count.
func (p *Processor) eventPass(ctx context.Context, job *BackupJob, writer *archive.Writer, bc *handler.BackupContext) error {
	it, err := p.events.ReadAllForApp(ctx, job.AppID)
	if err != nil {
		return NewStorageError("failed to read event stream", err)
	}
	defer it.Close()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		env := it.Envelope()
		sid, err := env.StreamID()
		if err != nil {
			return NewValidationError("malformed stream id in event store", err)
		}

		if err := writer.WriteEvent(env); err != nil {
			return err
		}

		h, err := p.registry.Resolve(sid.Kind)
		if err != nil {
			return err
		}
		if err := h.BackupEvent(ctx, env, bc); err != nil {
			return NewHandlerError(fmt.Sprintf("handler %s failed on stream %s event %d", sid.Kind, env.Stream, env.EventNumber), err)
		}

		job.HandledEvents++
		job.HandledAttachments = bc.AttachmentsCopied
		if job.HandledEvents%p.opts.ProgressInterval == 0 {
			if err := p.ledger.SaveBackupJob(ctx, job); err != nil {
				return err
			}
			p.logger.LogBackupProgress(job.ID, job.HandledEvents, job.HandledAttachments)
		}
	}
	return it.Err()
}

func (p *Processor) upload(ctx context.Context, job *BackupJob, stagePath string) error {
	f, err := os.Open(stagePath)
	if err != nil {
		return NewStorageError("failed to open finalized archive", err)
	}
	defer f.Close()

	job.ArchiveKey = ArchiveKeyFor(job.AppID, job.ID)
	if err := p.archives.Put(ctx, job.ArchiveKey, f); err != nil {
		return NewStorageError("failed to upload archive", err)
	}
	return nil
}
