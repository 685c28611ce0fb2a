package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"eventvault/internal/blob"
)

// Ledger key layout. One JSON object per job record, active-slot markers
// beside them. The active slot is the compare-and-swap guard behind the
// single-flight invariant.
const (
	backupJobPrefix  = "jobs/backup/"
	restoreJobPrefix = "jobs/restore/"
	activeSlotName   = "_active"
)

// JobLedger persists job records durably in a blob store so job listings
// survive process restarts. All methods are safe for sequential use by the
// services; the services serialize access with their own locks.
type JobLedger struct {
	store blob.Store
}

// NewJobLedger creates a ledger over the given store.
func NewJobLedger(store blob.Store) *JobLedger {
	return &JobLedger{store: store}
}

func backupJobKey(appID, jobID string) string {
	return path.Join(backupJobPrefix, appID, jobID+".json")
}

func backupActiveKey(appID string) string {
	return path.Join(backupJobPrefix, appID, activeSlotName)
}

func restoreJobKey(jobID string) string {
	return path.Join(restoreJobPrefix, jobID+".json")
}

func restoreActiveKey() string {
	return path.Join(restoreJobPrefix, activeSlotName)
}

// SaveBackupJob writes a backup job record.
func (l *JobLedger) SaveBackupJob(ctx context.Context, job *BackupJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := job.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize backup job", err)
	}
	if err := l.store.Put(ctx, backupJobKey(job.AppID, job.ID), bytes.NewReader(data)); err != nil {
		return NewStorageError("failed to persist backup job", err)
	}
	return nil
}

// GetBackupJob loads one backup job record.
func (l *JobLedger) GetBackupJob(ctx context.Context, appID, jobID string) (*BackupJob, error) {
	var job BackupJob
	if err := l.readJSON(ctx, backupJobKey(appID, jobID), &job); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("backup job %s not found for app %s", jobID, appID), err)
		}
		return nil, err
	}
	return &job, nil
}

// ListBackupJobs returns all backup job records for an app, newest first.
func (l *JobLedger) ListBackupJobs(ctx context.Context, appID string) ([]*BackupJob, error) {
	keys, err := l.store.List(ctx, backupJobPrefix+appID+"/")
	if err != nil {
		return nil, NewStorageError("failed to list backup jobs", err)
	}

	jobs := make([]*BackupJob, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var job BackupJob
		if err := l.readJSON(ctx, key, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs, nil
}

// DeleteBackupJob removes a backup job record.
func (l *JobLedger) DeleteBackupJob(ctx context.Context, appID, jobID string) error {
	if err := l.store.Delete(ctx, backupJobKey(appID, jobID)); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return NewNotFoundError(fmt.Sprintf("backup job %s not found for app %s", jobID, appID), err)
		}
		return NewStorageError("failed to delete backup job", err)
	}
	return nil
}

// SaveRestoreJob writes a restore job record.
func (l *JobLedger) SaveRestoreJob(ctx context.Context, job *RestoreJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := job.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize restore job", err)
	}
	if err := l.store.Put(ctx, restoreJobKey(job.ID), bytes.NewReader(data)); err != nil {
		return NewStorageError("failed to persist restore job", err)
	}
	return nil
}

// GetRestoreJob loads one restore job record.
func (l *JobLedger) GetRestoreJob(ctx context.Context, jobID string) (*RestoreJob, error) {
	var job RestoreJob
	if err := l.readJSON(ctx, restoreJobKey(jobID), &job); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("restore job %s not found", jobID), err)
		}
		return nil, err
	}
	return &job, nil
}

// ListRestoreJobs returns all restore job records, newest first.
func (l *JobLedger) ListRestoreJobs(ctx context.Context) ([]*RestoreJob, error) {
	keys, err := l.store.List(ctx, restoreJobPrefix)
	if err != nil {
		return nil, NewStorageError("failed to list restore jobs", err)
	}

	jobs := make([]*RestoreJob, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var job RestoreJob
		if err := l.readJSON(ctx, key, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs, nil
}

// ActiveBackupJob returns the job id occupying the app's active slot, or
// empty when no backup is marked active.
func (l *JobLedger) ActiveBackupJob(ctx context.Context, appID string) (string, error) {
	return l.readActive(ctx, backupActiveKey(appID))
}

// ClaimBackupSlot marks jobID as the app's active backup. It fails when the
// slot is already held, which enforces at most one running backup per app.
func (l *JobLedger) ClaimBackupSlot(ctx context.Context, appID, jobID string) error {
	return l.claim(ctx, backupActiveKey(appID), jobID, "app "+appID)
}

// ReleaseBackupSlot clears the app's active backup slot.
func (l *JobLedger) ReleaseBackupSlot(ctx context.Context, appID string) error {
	return l.release(ctx, backupActiveKey(appID))
}

// ActiveRestoreJob returns the job id occupying the system-wide restore
// slot, or empty when no restore is marked active.
func (l *JobLedger) ActiveRestoreJob(ctx context.Context) (string, error) {
	return l.readActive(ctx, restoreActiveKey())
}

// ClaimRestoreSlot marks jobID as the system-wide active restore.
func (l *JobLedger) ClaimRestoreSlot(ctx context.Context, jobID string) error {
	return l.claim(ctx, restoreActiveKey(), jobID, "restore")
}

// ReleaseRestoreSlot clears the system-wide restore slot.
func (l *JobLedger) ReleaseRestoreSlot(ctx context.Context) error {
	return l.release(ctx, restoreActiveKey())
}

// ReconcileBackupJobs marks every Running backup job for an app as Failed.
// Called on startup: a Running record with no live processor means the
// previous process crashed mid-run.
func (l *JobLedger) ReconcileBackupJobs(ctx context.Context, appID string) (int, error) {
	jobs, err := l.ListBackupJobs(ctx, appID)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, job := range jobs {
		if job.Status != JobStatusRunning {
			continue
		}
		now := time.Now().UTC()
		job.Status = JobStatusFailed
		job.StoppedAt = &now
		job.AddLog("job found running after process restart, marked failed")
		if err := l.SaveBackupJob(ctx, job); err != nil {
			return reconciled, err
		}
		reconciled++
	}
	if reconciled > 0 {
		if err := l.ReleaseBackupSlot(ctx, appID); err != nil {
			return reconciled, err
		}
	}
	return reconciled, nil
}

// ReconcileAllBackupJobs reconciles Running backup jobs across every app
// present in the ledger.
func (l *JobLedger) ReconcileAllBackupJobs(ctx context.Context) (int, error) {
	keys, err := l.store.List(ctx, backupJobPrefix)
	if err != nil {
		return 0, NewStorageError("failed to list backup jobs", err)
	}

	apps := make(map[string]bool)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, backupJobPrefix)
		appID, _, ok := strings.Cut(rest, "/")
		if ok && appID != "" {
			apps[appID] = true
		}
	}

	total := 0
	for appID := range apps {
		n, err := l.ReconcileBackupJobs(ctx, appID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReconcileRestoreJobs marks every Running restore job as Failed.
func (l *JobLedger) ReconcileRestoreJobs(ctx context.Context) (int, error) {
	jobs, err := l.ListRestoreJobs(ctx)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, job := range jobs {
		if job.Status != JobStatusRunning {
			continue
		}
		now := time.Now().UTC()
		job.Status = JobStatusFailed
		job.StoppedAt = &now
		job.AddLog("job found running after process restart, marked failed")
		if err := l.SaveRestoreJob(ctx, job); err != nil {
			return reconciled, err
		}
		reconciled++
	}
	if reconciled > 0 {
		if err := l.ReleaseRestoreSlot(ctx); err != nil {
			return reconciled, err
		}
	}
	return reconciled, nil
}

func (l *JobLedger) readJSON(ctx context.Context, key string, out interface{}) error {
	rc, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return err
		}
		return NewStorageError(fmt.Sprintf("failed to read ledger record %s", key), err)
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return NewStorageError(fmt.Sprintf("corrupt ledger record %s", key), err)
	}
	return nil
}

func (l *JobLedger) readActive(ctx context.Context, key string) (string, error) {
	rc, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return "", nil
		}
		return "", NewStorageError("failed to read active job slot", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", NewStorageError("failed to read active job slot", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (l *JobLedger) claim(ctx context.Context, key, jobID, scope string) error {
	current, err := l.readActive(ctx, key)
	if err != nil {
		return err
	}
	if current != "" {
		return NewAlreadyRunningError(scope).WithContext("active_job_id", current)
	}
	if err := l.store.Put(ctx, key, strings.NewReader(jobID)); err != nil {
		return NewStorageError("failed to claim active job slot", err)
	}
	return nil
}

func (l *JobLedger) release(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return NewStorageError("failed to release active job slot", err)
	}
	return nil
}
