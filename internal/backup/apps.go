package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"eventvault/internal/archive"
	"eventvault/internal/blob"
)

const appCatalogPrefix = "apps/"

// appRecord is the persisted form of a catalog entry.
type appRecord struct {
	Meta              archive.AppMetadata `json:"meta"`
	CreatedAt         time.Time           `json:"created_at"`
	RestoreIncomplete bool                `json:"restore_incomplete,omitempty"`
	IncompleteReason  string              `json:"incomplete_reason,omitempty"`
}

// BlobAppDirectory is an AppDirectory persisted in a blob store, one JSON
// record per app. Deployments embedding the engine next to a real catalog
// service supply their own AppDirectory instead.
type BlobAppDirectory struct {
	store blob.Store
}

// NewBlobAppDirectory creates a catalog over the given store.
func NewBlobAppDirectory(store blob.Store) *BlobAppDirectory {
	return &BlobAppDirectory{store: store}
}

func appKey(appID string) string {
	return path.Join(appCatalogPrefix, appID+".json")
}

// Get returns the metadata of an existing app.
func (d *BlobAppDirectory) Get(ctx context.Context, appID string) (archive.AppMetadata, error) {
	rec, err := d.load(ctx, appID)
	if err != nil {
		return archive.AppMetadata{}, err
	}
	return rec.Meta, nil
}

// Register stores metadata for an app under its existing id.
func (d *BlobAppDirectory) Register(ctx context.Context, meta archive.AppMetadata) error {
	if meta.ID == "" {
		return NewValidationError("app id is required", nil)
	}
	return d.save(ctx, &appRecord{Meta: meta, CreatedAt: time.Now().UTC()})
}

// Create provisions a new app from archived metadata under a fresh id.
func (d *BlobAppDirectory) Create(ctx context.Context, meta archive.AppMetadata) (string, error) {
	meta.ID = uuid.NewString()
	if err := d.save(ctx, &appRecord{Meta: meta, CreatedAt: time.Now().UTC()}); err != nil {
		return "", err
	}
	return meta.ID, nil
}

// FlagIncomplete marks an app as the product of a failed restore.
func (d *BlobAppDirectory) FlagIncomplete(ctx context.Context, appID string, reason string) error {
	rec, err := d.load(ctx, appID)
	if err != nil {
		return err
	}
	rec.RestoreIncomplete = true
	rec.IncompleteReason = reason
	return d.save(ctx, rec)
}

// List returns the ids of all registered apps.
func (d *BlobAppDirectory) List(ctx context.Context) ([]string, error) {
	keys, err := d.store.List(ctx, appCatalogPrefix)
	if err != nil {
		return nil, NewStorageError("failed to list apps", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		base := path.Base(key)
		if ext := path.Ext(base); ext == ".json" {
			ids = append(ids, base[:len(base)-len(ext)])
		}
	}
	return ids, nil
}

func (d *BlobAppDirectory) load(ctx context.Context, appID string) (*appRecord, error) {
	rc, err := d.store.Get(ctx, appKey(appID))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("app %s not found", appID), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read app %s", appID), err)
	}
	defer rc.Close()

	var rec appRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return nil, NewStorageError(fmt.Sprintf("corrupt app record %s", appID), err)
	}
	return &rec, nil
}

func (d *BlobAppDirectory) save(ctx context.Context, rec *appRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return NewStorageError("failed to serialize app record", err)
	}
	if err := d.store.Put(ctx, appKey(rec.Meta.ID), bytes.NewReader(data)); err != nil {
		return NewStorageError("failed to persist app record", err)
	}
	return nil
}
