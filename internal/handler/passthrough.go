package handler

import (
	"context"

	"eventvault/internal/event"
)

// passThroughHandler forwards events unchanged. The restore processor still
// remaps the stream id and translates the metadata actor; payload contents
// of unknown kinds are left as they are, which is why pass-through is
// opt-in.
type passThroughHandler struct{}

// NewPassThroughHandler creates the handler used for unregistered entity
// kinds under the pass-through policy.
func NewPassThroughHandler() Handler {
	return &passThroughHandler{}
}

func (*passThroughHandler) Kind() string { return "*" }

func (*passThroughHandler) BackupEvent(ctx context.Context, env event.Envelope, bc *BackupContext) error {
	return nil
}

func (*passThroughHandler) RestoreEvent(ctx context.Context, env event.Envelope, rc *RestoreContext) (event.Envelope, error) {
	return env, nil
}

func (*passThroughHandler) CompleteBackup(ctx context.Context, bc *BackupContext) error {
	return nil
}

func (*passThroughHandler) CompleteRestore(ctx context.Context, rc *RestoreContext) error {
	return nil
}
