// Package archive implements the portable backup container: an ordered event
// journal plus a keyed attachment section inside a single ZIP file.
//
// The journal is one newline-delimited JSON entry streamed through an
// optional compression codec and optional AES-GCM encryption. Attachments
// are stored as individual entries addressed by key. The ZIP central
// directory doubles as the terminal index: it is only written when the
// archive is finalized, so a truncated file can never be opened as valid.
package archive

import (
	"fmt"
	"time"
)

// FormatVersion is the archive format version this package writes and the
// only major version it accepts when reading.
const FormatVersion = 1

const (
	manifestEntry     = "manifest.json"
	journalEntryBase  = "journal.ndjson"
	attachmentPrefix  = "attachments/"
	encryptedSuffix   = ".enc"
	defaultFilePerm   = 0o644
	journalBufferSize = 64 * 1024
)

// AppMetadata describes the application an archive was exported from.
type AppMetadata struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Languages []string `json:"languages,omitempty"`
}

// Manifest is the archive header. It is written as the final entry but
// located by name, so readers see it regardless of position.
type Manifest struct {
	FormatVersion   int         `json:"format_version"`
	App             AppMetadata `json:"app"`
	Codec           CodecType   `json:"codec"`
	Encrypted       bool        `json:"encrypted,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	EventCount      int64       `json:"event_count"`
	AttachmentCount int64       `json:"attachment_count"`
	JournalChecksum string      `json:"journal_checksum"`
}

// FormatError reports a corrupt or unsupported archive. It is fatal: the
// reader never yields a partial event sequence on a bad archive.
type FormatError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("archive format error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("archive format error: %s", e.Message)
}

// Unwrap returns the underlying cause error.
func (e *FormatError) Unwrap() error {
	return e.Cause
}

// NewFormatError creates a FormatError.
func NewFormatError(message string, cause error) *FormatError {
	return &FormatError{Message: message, Cause: cause}
}

// ClosedArchiveError reports a write against a finalized archive. It signals
// an ordering bug in the caller, not an I/O condition.
type ClosedArchiveError struct {
	Operation string
}

// Error implements the error interface.
func (e *ClosedArchiveError) Error() string {
	return fmt.Sprintf("archive is closed: %s rejected", e.Operation)
}

// AttachmentNotFoundError reports a lookup for a key the archive does not
// contain.
type AttachmentNotFoundError struct {
	Key string
}

// Error implements the error interface.
func (e *AttachmentNotFoundError) Error() string {
	return fmt.Sprintf("attachment %q not found in archive", e.Key)
}

// journalEntryName returns the journal entry name for the codec/encryption
// combination, e.g. "journal.ndjson.zst.enc".
func journalEntryName(codec Codec, encrypted bool) string {
	name := journalEntryBase + codec.Extension()
	if encrypted {
		name += encryptedSuffix
	}
	return name
}
