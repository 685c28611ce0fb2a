package archive

import (
	"archive/zip"
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"strings"

	"eventvault/internal/event"
)

// ReaderOptions configures archive reading.
type ReaderOptions struct {
	// Passphrase decrypts the journal of an encrypted archive.
	Passphrase string
}

// Reader opens a finalized archive for one forward pass over the journal and
// random-access attachment reads. It is not safe for concurrent use.
type Reader struct {
	zr           *zip.ReadCloser
	manifest     Manifest
	opts         ReaderOptions
	journalFile  *zip.File
	attachments  map[string]*zip.File
	eventsOpened bool
}

// Open validates the archive format and returns a reader. A truncated file,
// a missing manifest or an unsupported format version all fail with
// FormatError; no partial event sequence is ever yielded.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, NewFormatError("not a valid archive container", err)
	}

	r := &Reader{
		zr:          zr,
		opts:        opts,
		attachments: make(map[string]*zip.File),
	}

	var manifestFile *zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == manifestEntry:
			manifestFile = f
		case strings.HasPrefix(f.Name, journalEntryBase):
			r.journalFile = f
		case strings.HasPrefix(f.Name, attachmentPrefix):
			r.attachments[strings.TrimPrefix(f.Name, attachmentPrefix)] = f
		}
	}

	if manifestFile == nil {
		zr.Close()
		return nil, NewFormatError("manifest entry is missing", nil)
	}
	if err := r.readManifest(manifestFile); err != nil {
		zr.Close()
		return nil, err
	}

	if r.manifest.FormatVersion != FormatVersion {
		zr.Close()
		return nil, NewFormatError(
			fmt.Sprintf("unsupported format version %d (reader supports %d)", r.manifest.FormatVersion, FormatVersion), nil)
	}
	if r.journalFile == nil {
		zr.Close()
		return nil, NewFormatError("journal entry is missing", nil)
	}
	if r.manifest.Encrypted && opts.Passphrase == "" {
		zr.Close()
		return nil, NewFormatError("archive journal is encrypted: passphrase required", nil)
	}

	return r, nil
}

func (r *Reader) readManifest(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return NewFormatError("failed to open manifest", err)
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(&r.manifest); err != nil {
		return NewFormatError("corrupt manifest", err)
	}
	return nil
}

// Manifest returns the archive header.
func (r *Reader) Manifest() Manifest {
	return r.manifest
}

// Events returns a lazy, forward-only, single-pass iterator over the journal
// in original commit order. A second call fails: callers needing another
// pass must reopen the archive.
func (r *Reader) Events() (event.Iterator, error) {
	if r.eventsOpened {
		return nil, NewFormatError("journal already consumed: reopen the archive for another pass", nil)
	}
	r.eventsOpened = true

	raw, err := r.journalFile.Open()
	if err != nil {
		return nil, NewFormatError("failed to open journal", err)
	}

	digest := sha256.New()
	var stream io.Reader = io.TeeReader(raw, digest)

	if r.manifest.Encrypted {
		stream, err = newDecryptReader(stream, r.opts.Passphrase)
		if err != nil {
			raw.Close()
			return nil, NewFormatError("failed to open encrypted journal", err)
		}
	}

	codec, err := NewCodecRegistry().Get(r.manifest.Codec)
	if err != nil {
		raw.Close()
		return nil, NewFormatError("unknown journal codec", err)
	}
	decoded, err := codec.NewReader(stream)
	if err != nil {
		raw.Close()
		return nil, NewFormatError("failed to open journal codec", err)
	}

	sc := bufio.NewScanner(decoded)
	sc.Buffer(make([]byte, 0, journalBufferSize), 16*1024*1024)

	return &journalIterator{
		raw:      raw,
		decoded:  decoded,
		scanner:  sc,
		digest:   digest,
		expected: r.manifest.JournalChecksum,
	}, nil
}

// ReadAttachment opens the attachment stored under key for streaming reads,
// independent of journal iteration.
func (r *Reader) ReadAttachment(key string) (io.ReadCloser, error) {
	f, ok := r.attachments[key]
	if !ok {
		return nil, &AttachmentNotFoundError{Key: key}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, NewFormatError(fmt.Sprintf("failed to open attachment %q", key), err)
	}
	return rc, nil
}

// AttachmentKeys returns the keys of all attachments in the archive.
func (r *Reader) AttachmentKeys() []string {
	keys := make([]string, 0, len(r.attachments))
	for k := range r.attachments {
		keys = append(keys, k)
	}
	return keys
}

// Close releases the underlying container.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// journalIterator streams envelopes off the decoded journal and verifies
// the stored-bytes checksum once the journal is fully consumed.
type journalIterator struct {
	raw      io.ReadCloser
	decoded  io.ReadCloser
	scanner  *bufio.Scanner
	digest   hash.Hash
	expected string
	current  event.Envelope
	err      error
	done     bool
}

func (it *journalIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if !it.scanner.Scan() {
		if err := it.scanner.Err(); err != nil {
			it.err = NewFormatError("corrupt journal", err)
		} else {
			it.finish()
		}
		return false
	}

	var env event.Envelope
	if err := json.Unmarshal(it.scanner.Bytes(), &env); err != nil {
		it.err = NewFormatError("corrupt journal record", err)
		return false
	}
	it.current = env
	return true
}

// finish drains the raw entry so the digest covers every stored byte, then
// compares it against the manifest checksum.
func (it *journalIterator) finish() {
	it.done = true
	if _, err := io.Copy(io.Discard, it.raw); err != nil {
		it.err = NewFormatError("failed to drain journal", err)
		return
	}
	if it.expected != "" {
		actual := hex.EncodeToString(it.digest.Sum(nil))
		if actual != it.expected {
			it.err = NewFormatError("journal checksum mismatch", nil)
		}
	}
}

func (it *journalIterator) Envelope() event.Envelope { return it.current }

func (it *journalIterator) Err() error { return it.err }

func (it *journalIterator) Close() error {
	it.decoded.Close()
	return it.raw.Close()
}
