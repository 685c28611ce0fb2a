package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore is a Store persisting one newline-delimited JSON log per app
// under a base directory. It gives the CLI a durable event store without an
// external service and keeps the same streaming contract as a real one.
type FileStore struct {
	baseDir string

	mu   sync.Mutex
	last map[string]int64 // appID+stream -> last event number
}

// NewFileStore creates a file-backed event store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("event store directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event store directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		last:    make(map[string]int64),
	}, nil
}

func (fs *FileStore) logPath(appID string) string {
	sanitized := strings.ReplaceAll(appID, string(filepath.Separator), "_")
	return filepath.Join(fs.baseDir, sanitized+".ndjson")
}

// ReadAllForApp opens the app log and streams it line by line.
func (fs *FileStore) ReadAllForApp(ctx context.Context, appID string) (Iterator, error) {
	f, err := os.Open(fs.logPath(appID))
	if err != nil {
		if os.IsNotExist(err) {
			return &sliceIterator{pos: -1}, nil
		}
		return nil, fmt.Errorf("failed to open event log for app %s: %w", appID, err)
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &fileIterator{file: f, scanner: sc}, nil
}

// Append appends an envelope as one JSON line, enforcing per-stream ordering.
func (fs *FileStore) Append(ctx context.Context, stream string, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	env.Stream = stream

	appID := env.Metadata.AppID
	if appID == "" {
		return fmt.Errorf("append to %s: envelope has no app id", stream)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := appID + "|" + stream
	if lastNum, seen := fs.last[key]; seen && env.EventNumber < lastNum {
		return fmt.Errorf("append to %s: event number %d is behind %d", stream, env.EventNumber, lastNum)
	}

	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	f, err := os.OpenFile(fs.logPath(appID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log for app %s: %w", appID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	fs.last[key] = env.EventNumber
	return nil
}

type fileIterator struct {
	file    *os.File
	scanner *bufio.Scanner
	current Envelope
	err     error
}

func (it *fileIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.scanner.Scan() {
		it.err = it.scanner.Err()
		return false
	}
	var env Envelope
	if err := json.Unmarshal(it.scanner.Bytes(), &env); err != nil {
		it.err = fmt.Errorf("corrupt event log line: %w", err)
		return false
	}
	it.current = env
	return true
}

func (it *fileIterator) Envelope() Envelope { return it.current }

func (it *fileIterator) Err() error { return it.err }

func (it *fileIterator) Close() error { return it.file.Close() }
