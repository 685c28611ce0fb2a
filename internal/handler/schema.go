package handler

import (
	"context"

	"eventvault/internal/event"
)

// KindSchema is the entity-kind tag for content schemas.
const KindSchema = "schema"

// schemaHandler rewrites the schema's own id and the creator reference.
type schemaHandler struct{}

// NewSchemaHandler creates the handler for schema streams.
func NewSchemaHandler() Handler {
	return &schemaHandler{}
}

func (*schemaHandler) Kind() string { return KindSchema }

func (*schemaHandler) BackupEvent(ctx context.Context, env event.Envelope, bc *BackupContext) error {
	return nil
}

func (*schemaHandler) RestoreEvent(ctx context.Context, env event.Envelope, rc *RestoreContext) (event.Envelope, error) {
	m, err := decodePayload(env)
	if err != nil {
		return event.Envelope{}, err
	}

	remapStringField(m, "id", rc.Guids.NewID)
	if err := remapUserField(ctx, m, "created_by", rc); err != nil {
		return event.Envelope{}, err
	}

	if err := encodePayload(&env, m); err != nil {
		return event.Envelope{}, err
	}
	return env, nil
}

func (*schemaHandler) CompleteBackup(ctx context.Context, bc *BackupContext) error {
	return nil
}

func (*schemaHandler) CompleteRestore(ctx context.Context, rc *RestoreContext) error {
	return nil
}
