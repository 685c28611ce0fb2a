package backup

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job. Transitions are
// one-directional: Running moves to Completed or Failed and never back.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobLogEntry is one human-readable step in a job's history.
type JobLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// BackupJob is the ledger record of one backup run. It is mutated only by
// the owning processor and becomes immutable once the status is terminal.
type BackupJob struct {
	ID                 string        `json:"id"`
	AppID              string        `json:"app_id"`
	StartedAt          time.Time     `json:"started_at"`
	StoppedAt          *time.Time    `json:"stopped_at,omitempty"`
	Status             JobStatus     `json:"status"`
	HandledEvents      int64         `json:"handled_events"`
	HandledAttachments int64         `json:"handled_attachments"`
	Log                []JobLogEntry `json:"log,omitempty"`
	// ArchiveKey locates the finalized archive in the archive blob store.
	ArchiveKey string `json:"archive_key,omitempty"`
}

// AddLog appends a timestamped step to the job log.
func (j *BackupJob) AddLog(format string, args ...interface{}) {
	j.Log = append(j.Log, JobLogEntry{
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// Validate checks the structural invariants of a backup job record.
func (j *BackupJob) Validate() error {
	if j.ID == "" {
		return NewValidationError("backup job id is required", nil)
	}
	if j.AppID == "" {
		return NewValidationError("backup job app id is required", nil)
	}
	switch j.Status {
	case JobStatusRunning, JobStatusCompleted, JobStatusFailed:
	default:
		return NewValidationError(fmt.Sprintf("unknown backup job status %q", j.Status), nil)
	}
	return nil
}

// ToJSON serializes the job record for the ledger.
func (j *BackupJob) ToJSON() ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

// RestoreJob is the ledger record of one restore run. Restore is
// system-scoped: the target app does not exist until the run creates it.
type RestoreJob struct {
	ID                 string        `json:"id"`
	StartedAt          time.Time     `json:"started_at"`
	StoppedAt          *time.Time    `json:"stopped_at,omitempty"`
	Status             JobStatus     `json:"status"`
	InitiatingUser     string        `json:"initiating_user,omitempty"`
	SourceArchiveKey   string        `json:"source_archive_key"`
	TargetAppID        string        `json:"target_app_id,omitempty"`
	HandledEvents      int64         `json:"handled_events"`
	HandledAttachments int64         `json:"handled_attachments"`
	Log                []JobLogEntry `json:"log,omitempty"`
}

// AddLog appends a timestamped step to the job log.
func (j *RestoreJob) AddLog(format string, args ...interface{}) {
	j.Log = append(j.Log, JobLogEntry{
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// Validate checks the structural invariants of a restore job record.
func (j *RestoreJob) Validate() error {
	if j.ID == "" {
		return NewValidationError("restore job id is required", nil)
	}
	if j.SourceArchiveKey == "" {
		return NewValidationError("restore job source archive key is required", nil)
	}
	switch j.Status {
	case JobStatusRunning, JobStatusCompleted, JobStatusFailed:
	default:
		return NewValidationError(fmt.Sprintf("unknown restore job status %q", j.Status), nil)
	}
	return nil
}

// ToJSON serializes the job record for the ledger.
func (j *RestoreJob) ToJSON() ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}
