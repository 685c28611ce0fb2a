package handler

import (
	"context"
	"fmt"

	"eventvault/internal/event"
)

// KindAsset is the entity-kind tag for binary assets.
const KindAsset = "asset"

// Asset event types that carry binary content. The attachment key is the
// asset id at the time of export.
const (
	assetCreatedEvent = "AssetCreated"
)

// assetHandler exports the asset binary as an archive attachment during
// backup and re-uploads it to the live asset store, under the remapped id,
// during restore.
type assetHandler struct{}

// NewAssetHandler creates the handler for asset streams.
func NewAssetHandler() Handler {
	return &assetHandler{}
}

func (*assetHandler) Kind() string { return KindAsset }

func (*assetHandler) BackupEvent(ctx context.Context, env event.Envelope, bc *BackupContext) error {
	if env.Type != assetCreatedEvent {
		return nil
	}

	sid, err := env.StreamID()
	if err != nil {
		return err
	}

	err = copyWithRetry(ctx, bc.AttachmentRetries, func() error {
		content, err := bc.Assets.Get(ctx, sid.ID)
		if err != nil {
			return fmt.Errorf("failed to read asset %s binary: %w", sid.ID, err)
		}
		defer content.Close()
		return bc.Attachments.WriteAttachment(sid.ID, content)
	})
	if err != nil {
		return err
	}

	bc.AttachmentsCopied++
	return nil
}

func (a *assetHandler) RestoreEvent(ctx context.Context, env event.Envelope, rc *RestoreContext) (event.Envelope, error) {
	sid, err := env.StreamID()
	if err != nil {
		return event.Envelope{}, err
	}

	m, err := decodePayload(env)
	if err != nil {
		return event.Envelope{}, err
	}
	remapStringField(m, "id", rc.Guids.NewID)
	if err := remapUserField(ctx, m, "uploaded_by", rc); err != nil {
		return event.Envelope{}, err
	}
	if err := encodePayload(&env, m); err != nil {
		return event.Envelope{}, err
	}

	if env.Type == assetCreatedEvent {
		if err := a.copyBinary(ctx, sid.ID, rc); err != nil {
			return event.Envelope{}, err
		}
	}

	return env, nil
}

// copyBinary pulls the exported binary by its old key and writes it to the
// live asset store under the remapped id.
func (*assetHandler) copyBinary(ctx context.Context, oldID string, rc *RestoreContext) error {
	newID := rc.Guids.NewID(oldID)

	err := copyWithRetry(ctx, rc.AttachmentRetries, func() error {
		content, err := rc.Attachments.ReadAttachment(oldID)
		if err != nil {
			return fmt.Errorf("failed to read attachment for asset %s: %w", oldID, err)
		}
		defer content.Close()
		return rc.Assets.Put(ctx, newID, content)
	})
	if err != nil {
		return err
	}

	rc.AttachmentsCopied++
	return nil
}

func (*assetHandler) CompleteBackup(ctx context.Context, bc *BackupContext) error {
	return nil
}

func (*assetHandler) CompleteRestore(ctx context.Context, rc *RestoreContext) error {
	return nil
}
