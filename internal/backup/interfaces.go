package backup

import (
	"context"

	"eventvault/internal/archive"
)

// AppDirectory is the application-catalog collaborator. Backup reads app
// metadata into the archive header; restore creates the target app from the
// header and flags it when a run fails partway through.
type AppDirectory interface {
	// Get returns the metadata of an existing app.
	Get(ctx context.Context, appID string) (archive.AppMetadata, error)

	// Create provisions a new app from archived metadata and returns its id.
	Create(ctx context.Context, meta archive.AppMetadata) (string, error)

	// FlagIncomplete marks an app as the product of a failed restore so it
	// is distinguishable from a successfully restored one.
	FlagIncomplete(ctx context.Context, appID string, reason string) error
}
