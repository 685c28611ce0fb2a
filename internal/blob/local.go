package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements Store on the local filesystem. Objects are plain
// files below a base directory; Put writes to a temp file and renames so a
// crash never leaves a half-written object at the final key.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a filesystem store rooted at the configured path.
func NewLocalStore(config *LocalConfig) (*LocalStore, error) {
	if config == nil {
		return nil, fmt.Errorf("local storage configuration is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local storage configuration: %w", err)
	}
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStore{basePath: config.BasePath}, nil
}

func (ls *LocalStore) objectPath(key string) string {
	return filepath.Join(ls.basePath, filepath.FromSlash(sanitizeKey(key)))
}

// sanitizeKey keeps keys below the base directory.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	parts := strings.Split(key, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}

// Put streams r into a temp file and renames it to the final path.
func (ls *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	path := ls.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush object %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return nil
}

// Get opens the object file for streaming reads.
func (ls *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(ls.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the object file.
func (ls *LocalStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(ls.objectPath(key))
	if os.IsNotExist(err) {
		return fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	return err
}

// List walks the base directory and returns keys under the prefix.
func (ls *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(ls.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(ls.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return keys, nil
}

// HealthCheck verifies that the base directory is writable and readable.
func (ls *LocalStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(ls.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("health_check"), 0o644); err != nil {
		return fmt.Errorf("storage health check failed: cannot write to base directory: %w", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return fmt.Errorf("storage health check failed: cannot read from base directory: %w", err)
	}
	os.Remove(testFile)
	return nil
}

// BasePath returns the root directory of the store.
func (ls *LocalStore) BasePath() string {
	return ls.basePath
}
