package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StreamID
		wantErr bool
	}{
		{name: "valid", input: "content/abc", want: StreamID{Kind: "content", ID: "abc"}},
		{name: "id with slashes", input: "asset/a/b/c", want: StreamID{Kind: "asset", ID: "a/b/c"}},
		{name: "missing separator", input: "content", wantErr: true},
		{name: "empty kind", input: "/abc", wantErr: true},
		{name: "empty id", input: "content/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStreamID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestEnvelopeValidate(t *testing.T) {
	valid := Envelope{
		Stream:      "content/abc",
		EventNumber: 0,
		Type:        "Created",
	}
	assert.NoError(t, valid.Validate())

	badStream := valid
	badStream.Stream = "nokind"
	assert.Error(t, badStream.Validate())

	negative := valid
	negative.EventNumber = -1
	assert.Error(t, negative.Validate())

	noType := valid
	noType.Type = ""
	assert.Error(t, noType.Validate())
}

func makeEnvelope(appID, stream string, number int64, eventType string) Envelope {
	return Envelope{
		Stream:      stream,
		EventNumber: number,
		Type:        eventType,
		Payload:     json.RawMessage(`{"k":"v"}`),
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			AppID:     appID,
		},
	}
}

func TestMemoryStoreCommitOrder(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	envs := []Envelope{
		makeEnvelope("app-1", "content/a", 0, "Created"),
		makeEnvelope("app-1", "schema/s", 0, "SchemaCreated"),
		makeEnvelope("app-1", "content/a", 1, "Updated"),
	}
	for _, env := range envs {
		require.NoError(t, ms.Append(ctx, env.Stream, env))
	}

	it, err := ms.ReadAllForApp(ctx, "app-1")
	require.NoError(t, err)
	defer it.Close()

	var got []Envelope
	for it.Next() {
		got = append(got, it.Envelope())
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 3)
	for i := range envs {
		assert.Equal(t, envs[i].Stream, got[i].Stream)
		assert.Equal(t, envs[i].EventNumber, got[i].EventNumber)
	}
}

func TestMemoryStoreRejectsEventNumberRegression(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.Append(ctx, "content/a", makeEnvelope("app-1", "content/a", 1, "Updated")))
	assert.Error(t, ms.Append(ctx, "content/a", makeEnvelope("app-1", "content/a", 0, "Created")))
	// Streams are independent.
	assert.NoError(t, ms.Append(ctx, "content/b", makeEnvelope("app-1", "content/b", 0, "Created")))
}

func TestMemoryStoreIsolatesApps(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.Append(ctx, "content/a", makeEnvelope("app-1", "content/a", 0, "Created")))
	require.NoError(t, ms.Append(ctx, "content/b", makeEnvelope("app-2", "content/b", 0, "Created")))

	assert.Equal(t, 1, ms.CountForApp("app-1"))
	assert.Equal(t, 1, ms.CountForApp("app-2"))
	assert.Empty(t, ms.EventsForStream("app-1", "content/b"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	envs := []Envelope{
		makeEnvelope("app-1", "content/a", 0, "Created"),
		makeEnvelope("app-1", "content/a", 1, "Updated"),
		makeEnvelope("app-1", "asset/x", 0, "AssetCreated"),
	}
	for _, env := range envs {
		require.NoError(t, fs.Append(ctx, env.Stream, env))
	}

	it, err := fs.ReadAllForApp(ctx, "app-1")
	require.NoError(t, err)
	defer it.Close()

	var got []Envelope
	for it.Next() {
		got = append(got, it.Envelope())
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 3)
	for i := range envs {
		assert.Equal(t, envs[i].Stream, got[i].Stream)
		assert.Equal(t, envs[i].Type, got[i].Type)
	}
}

func TestFileStoreEmptyApp(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	it, err := fs.ReadAllForApp(ctx, "missing-app")
	require.NoError(t, err)
	defer it.Close()

	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}
