package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"eventvault/internal/event"
)

// WriterOptions configures a new archive writer.
type WriterOptions struct {
	App        AppMetadata
	Codec      CodecType
	CodecLevel int
	// Passphrase enables journal encryption when non-empty.
	Passphrase string
}

// Writer writes an archive sequentially: events into the journal,
// attachments as keyed entries. It is single-writer by construction; no
// method may be called concurrently.
//
// The journal is spooled to a side file so attachment entries can be
// written to the ZIP while the event pass is still running. Close copies
// the spool into the container, writes the manifest, and finalizes the
// file via rename, making the archive atomically valid.
type Writer struct {
	path    string
	tmpPath string

	zipFile *os.File
	zipw    *zip.Writer

	spool     *os.File
	spoolPath string
	journal   io.WriteCloser // codec writer
	encrypt   *encryptWriter // nil when not encrypting

	manifest  Manifest
	lastEvent map[string]int64
	attached  map[string]bool
	closed    bool
}

// NewWriter opens a writer targeting path. The final file only appears on a
// successful Close.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	codec, err := NewCodecRegistry().Get(opts.Codec)
	if err != nil {
		return nil, NewFormatError("invalid writer options", err)
	}
	level := opts.CodecLevel
	if level == 0 {
		level = codec.DefaultLevel()
	}

	tmpPath := path + ".partial"
	zipFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	spool, err := os.CreateTemp("", "eventvault-journal-*")
	if err != nil {
		zipFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to create journal spool: %w", err)
	}

	w := &Writer{
		path:      path,
		tmpPath:   tmpPath,
		zipFile:   zipFile,
		zipw:      zip.NewWriter(zipFile),
		spool:     spool,
		spoolPath: spool.Name(),
		manifest: Manifest{
			FormatVersion: FormatVersion,
			App:           opts.App,
			Codec:         codec.Type(),
			Encrypted:     opts.Passphrase != "",
			CreatedAt:     time.Now().UTC(),
		},
		lastEvent: make(map[string]int64),
		attached:  make(map[string]bool),
	}

	var journalSink io.Writer = spool
	if opts.Passphrase != "" {
		w.encrypt, err = newEncryptWriter(spool, opts.Passphrase)
		if err != nil {
			w.discard()
			return nil, err
		}
		journalSink = w.encrypt
	}

	w.journal, err = codec.NewWriter(journalSink, level)
	if err != nil {
		w.discard()
		return nil, err
	}

	return w, nil
}

// WriteEvent appends an envelope to the journal, enforcing non-decreasing
// event numbers per stream.
func (w *Writer) WriteEvent(env event.Envelope) error {
	if w.closed {
		return &ClosedArchiveError{Operation: "WriteEvent"}
	}
	if err := env.Validate(); err != nil {
		return NewFormatError("invalid envelope", err)
	}
	if last, seen := w.lastEvent[env.Stream]; seen && env.EventNumber < last {
		return NewFormatError(
			fmt.Sprintf("stream %s: event number %d is behind %d", env.Stream, env.EventNumber, last), nil)
	}

	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if _, err := w.journal.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}

	w.lastEvent[env.Stream] = env.EventNumber
	w.manifest.EventCount++
	return nil
}

// WriteAttachment copies the content of r into the archive under key. Keys
// are unique within one archive; content passes through without buffering.
func (w *Writer) WriteAttachment(key string, r io.Reader) error {
	if w.closed {
		return &ClosedArchiveError{Operation: "WriteAttachment"}
	}
	if key == "" {
		return NewFormatError("attachment key is required", nil)
	}
	if w.attached[key] {
		return NewFormatError(fmt.Sprintf("duplicate attachment key %q", key), nil)
	}

	entry, err := w.zipw.CreateHeader(&zip.FileHeader{
		Name:     attachmentPrefix + key,
		Method:   zip.Store,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create attachment entry %q: %w", key, err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return fmt.Errorf("failed to write attachment %q: %w", key, err)
	}

	w.attached[key] = true
	w.manifest.AttachmentCount++
	return nil
}

// EventCount returns the number of events written so far.
func (w *Writer) EventCount() int64 {
	return w.manifest.EventCount
}

// AttachmentCount returns the number of attachments written so far.
func (w *Writer) AttachmentCount() int64 {
	return w.manifest.AttachmentCount
}

// Close finalizes the archive: it flushes the journal into the container,
// writes the manifest and the central directory, and renames the temp file
// onto the target path. After Close all writes fail with ClosedArchiveError.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.finalize(); err != nil {
		w.discard()
		return err
	}
	return nil
}

func (w *Writer) finalize() error {
	if err := w.journal.Close(); err != nil {
		return fmt.Errorf("failed to flush journal codec: %w", err)
	}
	if w.encrypt != nil {
		if err := w.encrypt.Close(); err != nil {
			return fmt.Errorf("failed to flush journal encryption: %w", err)
		}
	}
	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind journal spool: %w", err)
	}

	codec, err := NewCodecRegistry().Get(w.manifest.Codec)
	if err != nil {
		return err
	}

	entry, err := w.zipw.CreateHeader(&zip.FileHeader{
		Name:     journalEntryName(codec, w.manifest.Encrypted),
		Method:   zip.Store,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create journal entry: %w", err)
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(entry, hash), w.spool); err != nil {
		return fmt.Errorf("failed to copy journal into archive: %w", err)
	}
	w.manifest.JournalChecksum = hex.EncodeToString(hash.Sum(nil))

	manifestData, err := json.MarshalIndent(w.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	manifestWriter, err := w.zipw.Create(manifestEntry)
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}
	if _, err := manifestWriter.Write(manifestData); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := w.zipw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive index: %w", err)
	}
	if err := w.zipFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := w.zipFile.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	w.spool.Close()
	os.Remove(w.spoolPath)
	return nil
}

// Abort discards everything written so far and removes the temp files. The
// target path is never touched.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	if w.spool != nil {
		w.spool.Close()
		os.Remove(w.spoolPath)
	}
	if w.zipFile != nil {
		w.zipFile.Close()
		os.Remove(w.tmpPath)
	}
}
