package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventvault/internal/blob"
	"eventvault/internal/event"
	"eventvault/internal/logging"
	"eventvault/internal/remap"
	"eventvault/internal/users"
)

// memAttachments is an in-memory AttachmentWriter/AttachmentReader pair.
type memAttachments struct {
	data map[string][]byte
}

func newMemAttachments() *memAttachments {
	return &memAttachments{data: make(map[string][]byte)}
}

func (m *memAttachments) WriteAttachment(key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

func (m *memAttachments) ReadAttachment(key string) (io.ReadCloser, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("no attachment %q", key)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func newRestoreContext(t *testing.T, directory users.Directory) (*RestoreContext, *memAttachments, *blob.MemoryStore) {
	t.Helper()
	if directory == nil {
		directory = users.NewStaticDirectory(nil)
	}
	attachments := newMemAttachments()
	assets := blob.NewMemoryStore()
	return &RestoreContext{
		AppID:             "app-new",
		Guids:             remap.NewGuidMapper(false),
		Users:             remap.NewUserMapping(directory, nil),
		Attachments:       attachments,
		Assets:            assets,
		Logger:            logging.NewDefaultLogger(),
		AttachmentRetries: 2,
	}, attachments, assets
}

func contentEnvelope(t *testing.T, payload map[string]interface{}) event.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return event.Envelope{
		Stream:      "content/abc",
		EventNumber: 0,
		Type:        "ContentCreated",
		Payload:     data,
	}
}

func TestRegistryResolvesRegisteredKinds(t *testing.T) {
	r, err := NewDefaultRegistry(UnknownKindFail)
	require.NoError(t, err)

	for _, kind := range []string{KindContent, KindAsset, KindSchema} {
		h, err := r.Resolve(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, h.Kind())
	}
	assert.ElementsMatch(t, []string{KindContent, KindAsset, KindSchema}, r.Kinds())
}

func TestRegistryFailPolicy(t *testing.T) {
	r, err := NewDefaultRegistry(UnknownKindFail)
	require.NoError(t, err)

	_, err = r.Resolve("workflow")
	var unknownErr *UnknownKindError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "workflow", unknownErr.Kind)
}

func TestRegistryPassThroughPolicy(t *testing.T) {
	r, err := NewDefaultRegistry(UnknownKindPassThrough)
	require.NoError(t, err)

	h, err := r.Resolve("workflow")
	require.NoError(t, err)

	env := event.Envelope{Stream: "workflow/w1", EventNumber: 0, Type: "Started", Payload: json.RawMessage(`{"id":"w1"}`)}
	rc, _, _ := newRestoreContext(t, nil)
	got, err := h.RestoreEvent(context.Background(), env, rc)
	require.NoError(t, err)
	assert.Equal(t, env, got, "pass-through forwards the envelope unchanged")
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	_, err := NewRegistry(UnknownKindFail, NewContentHandler(), NewContentHandler())
	require.Error(t, err)
}

func TestRegistryRejectsUnknownPolicy(t *testing.T) {
	_, err := NewRegistry(UnknownKindPolicy("maybe"))
	require.Error(t, err)
}

func TestContentHandlerRemapsPayload(t *testing.T) {
	rc, _, _ := newRestoreContext(t, nil)
	h := NewContentHandler()

	env := contentEnvelope(t, map[string]interface{}{
		"id":        "abc",
		"schema_id": "sch-1",
		"asset_ids": []interface{}{"as-1", "as-2"},
		"author":    "ghost@example.com",
		"title":     "untouched",
	})

	got, err := h.RestoreEvent(context.Background(), env, rc)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Payload, &m))

	assert.Equal(t, rc.Guids.NewID("abc"), m["id"])
	assert.Equal(t, rc.Guids.NewID("sch-1"), m["schema_id"])
	assert.Equal(t, []interface{}{rc.Guids.NewID("as-1"), rc.Guids.NewID("as-2")}, m["asset_ids"])
	assert.Equal(t, remap.PlaceholderUser, m["author"])
	assert.Equal(t, "untouched", m["title"])
}

func TestContentHandlerRemapsConsistently(t *testing.T) {
	rc, _, _ := newRestoreContext(t, nil)
	h := NewContentHandler()

	first, err := h.RestoreEvent(context.Background(), contentEnvelope(t, map[string]interface{}{"id": "abc"}), rc)
	require.NoError(t, err)
	second, err := h.RestoreEvent(context.Background(), contentEnvelope(t, map[string]interface{}{"schema_id": "abc"}), rc)
	require.NoError(t, err)

	var m1, m2 map[string]interface{}
	require.NoError(t, json.Unmarshal(first.Payload, &m1))
	require.NoError(t, json.Unmarshal(second.Payload, &m2))
	assert.Equal(t, m1["id"], m2["schema_id"], "the same old id maps to the same new id across events")
}

func TestContentHandlerResolvedAuthorKept(t *testing.T) {
	directory := users.NewStaticDirectory(map[string]string{"alice@example.com": "user-42"})
	rc, _, _ := newRestoreContext(t, directory)
	h := NewContentHandler()

	got, err := h.RestoreEvent(context.Background(), contentEnvelope(t, map[string]interface{}{"author": "alice@example.com"}), rc)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Payload, &m))
	assert.Equal(t, "user-42", m["author"])
}

func TestContentHandlerMalformedPayload(t *testing.T) {
	rc, _, _ := newRestoreContext(t, nil)
	h := NewContentHandler()

	env := event.Envelope{Stream: "content/abc", EventNumber: 0, Type: "ContentCreated", Payload: json.RawMessage(`not-json`)}
	_, err := h.RestoreEvent(context.Background(), env, rc)
	require.Error(t, err)
}

func TestAssetHandlerBackupCopiesBinary(t *testing.T) {
	ctx := context.Background()
	assets := blob.NewMemoryStore()
	require.NoError(t, assets.Put(ctx, "img-1", strings.NewReader("binary-bytes")))

	attachments := newMemAttachments()
	bc := &BackupContext{
		AppID:             "app-1",
		Attachments:       attachments,
		Assets:            assets,
		Logger:            logging.NewDefaultLogger(),
		AttachmentRetries: 2,
	}

	h := NewAssetHandler()
	env := event.Envelope{Stream: "asset/img-1", EventNumber: 0, Type: "AssetCreated", Payload: json.RawMessage(`{"id":"img-1"}`)}
	require.NoError(t, h.BackupEvent(ctx, env, bc))

	assert.Equal(t, "binary-bytes", string(attachments.data["img-1"]))
	assert.Equal(t, int64(1), bc.AttachmentsCopied)

	// Non-binary events copy nothing.
	updated := env
	updated.Type = "AssetRenamed"
	updated.EventNumber = 1
	require.NoError(t, h.BackupEvent(ctx, updated, bc))
	assert.Equal(t, int64(1), bc.AttachmentsCopied)
}

func TestAssetHandlerRestoreUploadsUnderNewID(t *testing.T) {
	ctx := context.Background()
	rc, attachments, assets := newRestoreContext(t, nil)
	require.NoError(t, attachments.WriteAttachment("img-1", strings.NewReader("binary-bytes")))

	h := NewAssetHandler()
	env := event.Envelope{
		Stream:      "asset/img-1",
		EventNumber: 0,
		Type:        "AssetCreated",
		Payload:     json.RawMessage(`{"id":"img-1","uploaded_by":"ghost@example.com"}`),
	}

	got, err := h.RestoreEvent(ctx, env, rc)
	require.NoError(t, err)

	newID := rc.Guids.NewID("img-1")
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Payload, &m))
	assert.Equal(t, newID, m["id"])
	assert.Equal(t, remap.PlaceholderUser, m["uploaded_by"])

	stored, err := assets.Get(ctx, newID)
	require.NoError(t, err)
	data, _ := io.ReadAll(stored)
	stored.Close()
	assert.Equal(t, "binary-bytes", string(data))
	assert.Equal(t, int64(1), rc.AttachmentsCopied)
}

func TestSchemaHandlerRemapsPayload(t *testing.T) {
	rc, _, _ := newRestoreContext(t, nil)
	h := NewSchemaHandler()

	env := event.Envelope{
		Stream:      "schema/sch-1",
		EventNumber: 0,
		Type:        "SchemaCreated",
		Payload:     json.RawMessage(`{"id":"sch-1","created_by":"ghost@example.com","fields":["a","b"]}`),
	}
	got, err := h.RestoreEvent(context.Background(), env, rc)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Payload, &m))
	assert.Equal(t, rc.Guids.NewID("sch-1"), m["id"])
	assert.Equal(t, remap.PlaceholderUser, m["created_by"])
	assert.Equal(t, []interface{}{"a", "b"}, m["fields"])
}

func TestCopyWithRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := copyWithRetry(context.Background(), 3, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient failure %d", attempts)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCopyWithRetryExhausted(t *testing.T) {
	attempts := 0
	err := copyWithRetry(context.Background(), 2, func() error {
		attempts++
		return fmt.Errorf("persistent failure")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestCopyWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := copyWithRetry(ctx, 5, func() error {
		return fmt.Errorf("always failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
