package handler

import (
	"context"

	"eventvault/internal/event"
)

// KindContent is the entity-kind tag for content items.
const KindContent = "content"

// contentHandler rewrites the entity references content payloads carry:
// the item's own id, its schema reference, referenced asset ids, and the
// author user reference. Content has no binary side effects.
type contentHandler struct{}

// NewContentHandler creates the handler for content item streams.
func NewContentHandler() Handler {
	return &contentHandler{}
}

func (*contentHandler) Kind() string { return KindContent }

func (*contentHandler) BackupEvent(ctx context.Context, env event.Envelope, bc *BackupContext) error {
	return nil
}

func (*contentHandler) RestoreEvent(ctx context.Context, env event.Envelope, rc *RestoreContext) (event.Envelope, error) {
	m, err := decodePayload(env)
	if err != nil {
		return event.Envelope{}, err
	}

	remapStringField(m, "id", rc.Guids.NewID)
	remapStringField(m, "schema_id", rc.Guids.NewID)
	remapStringListField(m, "asset_ids", rc.Guids.NewID)
	if err := remapUserField(ctx, m, "author", rc); err != nil {
		return event.Envelope{}, err
	}

	if err := encodePayload(&env, m); err != nil {
		return event.Envelope{}, err
	}
	return env, nil
}

func (*contentHandler) CompleteBackup(ctx context.Context, bc *BackupContext) error {
	return nil
}

func (*contentHandler) CompleteRestore(ctx context.Context, rc *RestoreContext) error {
	return nil
}
