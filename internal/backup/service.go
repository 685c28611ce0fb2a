package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventvault/internal/blob"
	"eventvault/internal/logging"
)

// activeRun tracks one in-flight job owned by a service.
type activeRun struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// BackupService is the app-scoped backup orchestrator. It enforces the
// single-flight invariant per app, supervises one processor goroutine per
// job and keeps the durable ledger authoritative across restarts.
type BackupService struct {
	processor *Processor
	ledger    *JobLedger
	archives  blob.Store
	logger    *logging.Logger

	mu     sync.Mutex
	active map[string]*activeRun // keyed by app id
}

// NewBackupService creates a backup orchestrator.
func NewBackupService(processor *Processor, ledger *JobLedger, archives blob.Store, logger *logging.Logger) *BackupService {
	return &BackupService{
		processor: processor,
		ledger:    ledger,
		archives:  archives,
		logger:    logger,
		active:    make(map[string]*activeRun),
	}
}

// Start begins a backup for the app. It fails with an already-running error
// when a backup is in flight for the same app, without creating a second job
// record. The processor runs in the background; use Wait to block on it.
func (s *BackupService) Start(ctx context.Context, appID string) (*BackupJob, error) {
	if appID == "" {
		return nil, NewValidationError("app id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.active[appID]; ok {
		return nil, NewAlreadyRunningError("app " + appID).WithContext("active_job_id", run.jobID)
	}

	job := &BackupJob{
		ID:        uuid.NewString(),
		AppID:     appID,
		StartedAt: time.Now().UTC(),
		Status:    JobStatusRunning,
	}

	if err := s.ledger.ClaimBackupSlot(ctx, appID, job.ID); err != nil {
		return nil, err
	}
	if err := s.ledger.SaveBackupJob(ctx, job); err != nil {
		s.ledger.ReleaseBackupSlot(context.WithoutCancel(ctx), appID)
		return nil, err
	}

	// The run outlives the caller's request context; cancellation comes
	// through Cancel, not through the Start caller going away.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &activeRun{jobID: job.ID, cancel: cancel, done: make(chan struct{})}
	s.active[appID] = run

	go s.supervise(runCtx, appID, job, run)

	s.logger.Infof("backup job %s started for app %s", job.ID, appID)
	return job, nil
}

func (s *BackupService) supervise(ctx context.Context, appID string, job *BackupJob, run *activeRun) {
	defer close(run.done)
	defer run.cancel()

	if err := s.processor.Run(ctx, job); err != nil {
		s.logger.Errorf("backup job %s failed: %v", job.ID, err)
	}

	cleanup := context.WithoutCancel(ctx)
	if err := s.ledger.ReleaseBackupSlot(cleanup, appID); err != nil {
		s.logger.Errorf("failed to release backup slot for app %s: %v", appID, err)
	}

	s.mu.Lock()
	delete(s.active, appID)
	s.mu.Unlock()
}

// Wait blocks until no backup is in flight for the app.
func (s *BackupService) Wait(appID string) {
	s.mu.Lock()
	run, ok := s.active[appID]
	s.mu.Unlock()
	if ok {
		<-run.done
	}
}

// Cancel cooperatively stops the running backup for the app. The processor
// stops at the next event boundary and the job terminates as Failed with a
// cancellation reason.
func (s *BackupService) Cancel(appID string) error {
	s.mu.Lock()
	run, ok := s.active[appID]
	s.mu.Unlock()

	if !ok {
		return NewNotFoundError(fmt.Sprintf("no running backup for app %s", appID), nil)
	}
	run.cancel()
	<-run.done
	return nil
}

// List returns the app's backup jobs, newest first.
func (s *BackupService) List(ctx context.Context, appID string) ([]*BackupJob, error) {
	return s.ledger.ListBackupJobs(ctx, appID)
}

// Get returns one backup job record.
func (s *BackupService) Get(ctx context.Context, appID, jobID string) (*BackupJob, error) {
	return s.ledger.GetBackupJob(ctx, appID, jobID)
}

// Delete removes a terminal job record and its archive blob. Running jobs
// cannot be deleted; cancel them first.
func (s *BackupService) Delete(ctx context.Context, appID, jobID string) error {
	job, err := s.ledger.GetBackupJob(ctx, appID, jobID)
	if err != nil {
		return err
	}
	if job.Status == JobStatusRunning {
		return NewValidationError(fmt.Sprintf("backup job %s is running, cancel it before deleting", jobID), nil)
	}

	if job.ArchiveKey != "" {
		if err := s.archives.Delete(ctx, job.ArchiveKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return NewStorageError(fmt.Sprintf("failed to delete archive %s", job.ArchiveKey), err)
		}
	}
	return s.ledger.DeleteBackupJob(ctx, appID, jobID)
}

// Download opens the finalized archive of a completed job for reading.
func (s *BackupService) Download(ctx context.Context, appID, jobID string) (io.ReadCloser, string, error) {
	job, err := s.ledger.GetBackupJob(ctx, appID, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.Status != JobStatusCompleted {
		return nil, "", NewValidationError(fmt.Sprintf("backup job %s is %s, only completed jobs can be downloaded", jobID, job.Status), nil)
	}

	rc, err := s.archives.Get(ctx, job.ArchiveKey)
	if err != nil {
		return nil, "", NewStorageError(fmt.Sprintf("failed to open archive %s", job.ArchiveKey), err)
	}
	return rc, job.ArchiveKey, nil
}

// Recover reconciles ledger records left Running by a previous process. A
// Running record without a live processor means a crash; the record moves to
// Failed so the scope accepts new jobs.
func (s *BackupService) Recover(ctx context.Context) (int, error) {
	n, err := s.ledger.ReconcileAllBackupJobs(ctx)
	if n > 0 {
		s.logger.Warnf("reconciled %d interrupted backup jobs to failed", n)
	}
	return n, err
}

// RestoreService is the system-scoped restore orchestrator: at most one
// restore runs at a time across the whole deployment, because the target app
// does not exist until the run creates it.
type RestoreService struct {
	processor *RestoreProcessor
	ledger    *JobLedger
	logger    *logging.Logger

	mu     sync.Mutex
	active *activeRun
}

// NewRestoreService creates a restore orchestrator.
func NewRestoreService(processor *RestoreProcessor, ledger *JobLedger, logger *logging.Logger) *RestoreService {
	return &RestoreService{
		processor: processor,
		ledger:    ledger,
		logger:    logger,
	}
}

// Start begins a restore from an archive in the archive store. It fails with
// an already-running error when any restore is in flight.
func (s *RestoreService) Start(ctx context.Context, archiveKey, initiatingUser string) (*RestoreJob, error) {
	if archiveKey == "" {
		return nil, NewValidationError("archive key is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, NewAlreadyRunningError("restore").WithContext("active_job_id", s.active.jobID)
	}

	job := &RestoreJob{
		ID:               uuid.NewString(),
		StartedAt:        time.Now().UTC(),
		Status:           JobStatusRunning,
		InitiatingUser:   initiatingUser,
		SourceArchiveKey: archiveKey,
	}

	if err := s.ledger.ClaimRestoreSlot(ctx, job.ID); err != nil {
		return nil, err
	}
	if err := s.ledger.SaveRestoreJob(ctx, job); err != nil {
		s.ledger.ReleaseRestoreSlot(context.WithoutCancel(ctx))
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &activeRun{jobID: job.ID, cancel: cancel, done: make(chan struct{})}
	s.active = run

	go s.supervise(runCtx, job, run)

	s.logger.Infof("restore job %s started from %s", job.ID, archiveKey)
	return job, nil
}

func (s *RestoreService) supervise(ctx context.Context, job *RestoreJob, run *activeRun) {
	defer close(run.done)
	defer run.cancel()

	if err := s.processor.Run(ctx, job); err != nil {
		s.logger.Errorf("restore job %s failed: %v", job.ID, err)
	}

	cleanup := context.WithoutCancel(ctx)
	if err := s.ledger.ReleaseRestoreSlot(cleanup); err != nil {
		s.logger.Errorf("failed to release restore slot: %v", err)
	}

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// Wait blocks until no restore is in flight.
func (s *RestoreService) Wait() {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

// Cancel cooperatively stops the running restore.
func (s *RestoreService) Cancel() error {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil {
		return NewNotFoundError("no running restore", nil)
	}
	run.cancel()
	<-run.done
	return nil
}

// Status returns the most recent restore job, or nil when none exists.
func (s *RestoreService) Status(ctx context.Context) (*RestoreJob, error) {
	jobs, err := s.ledger.ListRestoreJobs(ctx)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// List returns all restore jobs, newest first.
func (s *RestoreService) List(ctx context.Context) ([]*RestoreJob, error) {
	return s.ledger.ListRestoreJobs(ctx)
}

// Get returns one restore job record.
func (s *RestoreService) Get(ctx context.Context, jobID string) (*RestoreJob, error) {
	return s.ledger.GetRestoreJob(ctx, jobID)
}

// Recover reconciles restore records left Running by a previous process.
func (s *RestoreService) Recover(ctx context.Context) (int, error) {
	n, err := s.ledger.ReconcileRestoreJobs(ctx)
	if n > 0 {
		s.logger.Warnf("reconciled %d interrupted restore jobs to failed", n)
	}
	return n, err
}
