package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventvault/internal/archive"
	"eventvault/internal/blob"
	"eventvault/internal/event"
	"eventvault/internal/handler"
	"eventvault/internal/logging"
	"eventvault/internal/users"
)

// fixture wires a complete in-memory engine for one test.
type fixture struct {
	events   *event.MemoryStore
	assets   *blob.MemoryStore
	archives *blob.MemoryStore
	apps     *BlobAppDirectory
	ledger   *JobLedger
	registry *handler.Registry

	processor *Processor
	restorer  *RestoreProcessor
	backups   *BackupService
	restores  *RestoreService
}

func newFixture(t *testing.T, directory users.Directory, opts RestoreOptions) *fixture {
	t.Helper()

	if directory == nil {
		directory = users.NewStaticDirectory(nil)
	}
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet, Output: io.Discard})
	require.NoError(t, err)

	registry, err := handler.NewDefaultRegistry(handler.UnknownKindFail)
	require.NoError(t, err)

	f := &fixture{
		events:   event.NewMemoryStore(),
		assets:   blob.NewMemoryStore(),
		archives: blob.NewMemoryStore(),
		registry: registry,
	}
	f.ledger = NewJobLedger(f.archives)
	f.apps = NewBlobAppDirectory(f.archives)

	opts.TempDir = t.TempDir()
	f.processor = NewProcessor(f.events, f.assets, f.archives, f.apps, f.ledger, registry, logger, opts.ProcessorOptions)
	f.restorer = NewRestoreProcessor(f.events, f.assets, f.archives, f.apps, directory, f.ledger, registry, logger, opts)
	f.backups = NewBackupService(f.processor, f.ledger, f.archives, logger)
	f.restores = NewRestoreService(f.restorer, f.ledger, logger)
	return f
}

func (f *fixture) registerApp(t *testing.T, appID string) {
	t.Helper()
	require.NoError(t, f.apps.Register(context.Background(), archive.AppMetadata{
		ID:        appID,
		Name:      "Test App",
		Languages: []string{"en"},
	}))
}

func (f *fixture) seedContentStream(t *testing.T, appID string) {
	t.Helper()
	ctx := context.Background()
	for i, eventType := range []string{"Created", "Updated", "Published"} {
		env := event.Envelope{
			Stream:      "content/abc",
			EventNumber: int64(i),
			Type:        eventType,
			Payload:     json.RawMessage(fmt.Sprintf(`{"id":"abc","author":"u1","rev":%d}`, i)),
			Metadata: event.Metadata{
				Timestamp: time.Now().UTC(),
				Actor:     "u1",
				AppID:     appID,
			},
		}
		require.NoError(t, f.events.Append(ctx, env.Stream, env))
	}
}

func (f *fixture) seedAsset(t *testing.T, appID, assetID, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.assets.Put(ctx, assetID, strings.NewReader(content)))
	env := event.Envelope{
		Stream:      "asset/" + assetID,
		EventNumber: 0,
		Type:        "AssetCreated",
		Payload:     json.RawMessage(fmt.Sprintf(`{"id":%q,"uploaded_by":"u1"}`, assetID)),
		Metadata: event.Metadata{
			Timestamp: time.Now().UTC(),
			Actor:     "u1",
			AppID:     appID,
		},
	}
	require.NoError(t, f.events.Append(ctx, env.Stream, env))
}

func (f *fixture) runBackup(t *testing.T, appID string) *BackupJob {
	t.Helper()
	ctx := context.Background()
	job, err := f.backups.Start(ctx, appID)
	require.NoError(t, err)
	f.backups.Wait(appID)

	final, err := f.backups.Get(ctx, appID, job.ID)
	require.NoError(t, err)
	return final
}

func (f *fixture) runRestore(t *testing.T, archiveKey string) *RestoreJob {
	t.Helper()
	ctx := context.Background()
	job, err := f.restores.Start(ctx, archiveKey, "operator")
	require.NoError(t, err)
	f.restores.Wait()

	final, err := f.restores.Get(ctx, job.ID)
	require.NoError(t, err)
	return final
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")
	f.seedAsset(t, "app-1", "img-1", "asset-binary")

	backupJob := f.runBackup(t, "app-1")
	require.Equal(t, JobStatusCompleted, backupJob.Status)
	assert.Equal(t, int64(4), backupJob.HandledEvents)
	assert.Equal(t, int64(1), backupJob.HandledAttachments)
	require.NotEmpty(t, backupJob.ArchiveKey)

	// The archive blob exists and is a valid container.
	rc, err := f.archives.Get(ctx, backupJob.ArchiveKey)
	require.NoError(t, err)
	rc.Close()

	restoreJob := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, restoreJob.Status)
	assert.Equal(t, int64(4), restoreJob.HandledEvents)
	assert.Equal(t, int64(1), restoreJob.HandledAttachments)
	require.NotEmpty(t, restoreJob.TargetAppID)
	assert.NotEqual(t, "app-1", restoreJob.TargetAppID)

	// The target app holds the same number of events under new stream ids.
	assert.Equal(t, 4, f.events.CountForApp(restoreJob.TargetAppID))
	streams := f.events.Streams(restoreJob.TargetAppID)
	require.Len(t, streams, 2)
	for _, stream := range streams {
		assert.NotContains(t, []string{"content/abc", "asset/img-1"}, stream)
	}
}

func TestRestoreScenarioUnresolvedAuthor(t *testing.T) {
	// One content stream with 3 events authored by "u1", unresolvable on the
	// target: all three land attributed to the placeholder user and the job
	// log notes the unresolved user exactly once.
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	backupJob := f.runBackup(t, "app-1")
	require.Equal(t, JobStatusCompleted, backupJob.Status)
	assert.Equal(t, int64(3), backupJob.HandledEvents)

	restoreJob := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, restoreJob.Status)

	streams := f.events.Streams(restoreJob.TargetAppID)
	require.Len(t, streams, 1)
	newStream := streams[0]
	assert.True(t, strings.HasPrefix(newStream, "content/"))
	assert.NotEqual(t, "content/abc", newStream)

	envs := f.events.EventsForStream(restoreJob.TargetAppID, newStream)
	require.Len(t, envs, 3)
	for i, wantType := range []string{"Created", "Updated", "Published"} {
		assert.Equal(t, wantType, envs[i].Type, "relative order is preserved")
		assert.Equal(t, int64(i), envs[i].EventNumber)
		assert.Equal(t, "backup-user", envs[i].Metadata.Actor)

		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(envs[i].Payload, &m))
		assert.Equal(t, "backup-user", m["author"])
		assert.NotEqual(t, "abc", m["id"])
	}

	notes := 0
	for _, entry := range restoreJob.Log {
		if strings.Contains(entry.Message, "u1") && strings.Contains(entry.Message, "could not be resolved") {
			notes++
		}
	}
	assert.Equal(t, 1, notes, "one note per distinct unresolved user, not per event")
}

func TestRestoreResolvedUsersKeepIdentity(t *testing.T) {
	directory := users.NewStaticDirectory(map[string]string{"u1": "user-42"})
	f := newFixture(t, directory, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	backupJob := f.runBackup(t, "app-1")
	restoreJob := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, restoreJob.Status)

	streams := f.events.Streams(restoreJob.TargetAppID)
	require.Len(t, streams, 1)
	for _, env := range f.events.EventsForStream(restoreJob.TargetAppID, streams[0]) {
		assert.Equal(t, "user-42", env.Metadata.Actor)
	}
}

func TestRestoreTwiceProducesDisjointEntities(t *testing.T) {
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	backupJob := f.runBackup(t, "app-1")

	first := f.runRestore(t, backupJob.ArchiveKey)
	second := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, first.Status)
	require.Equal(t, JobStatusCompleted, second.Status)

	assert.NotEqual(t, first.TargetAppID, second.TargetAppID)
	firstStreams := f.events.Streams(first.TargetAppID)
	secondStreams := f.events.Streams(second.TargetAppID)
	require.Len(t, firstStreams, 1)
	require.Len(t, secondStreams, 1)
	assert.NotEqual(t, firstStreams[0], secondStreams[0], "re-import never collides with the first restore")
}

func TestRestorePreserveIdentity(t *testing.T) {
	f := newFixture(t, nil, RestoreOptions{PreserveIdentity: true})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	backupJob := f.runBackup(t, "app-1")
	restoreJob := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, restoreJob.Status)

	streams := f.events.Streams(restoreJob.TargetAppID)
	require.Len(t, streams, 1)
	assert.Equal(t, "content/abc", streams[0], "identity-preserving restore keeps source ids")
}

func TestRestoreAssetBinaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedAsset(t, "app-1", "img-1", "asset-binary")

	backupJob := f.runBackup(t, "app-1")
	restoreJob := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, restoreJob.Status)

	streams := f.events.Streams(restoreJob.TargetAppID)
	require.Len(t, streams, 1)
	newAssetID := strings.TrimPrefix(streams[0], "asset/")
	assert.NotEqual(t, "img-1", newAssetID)

	rc, err := f.assets.Get(ctx, newAssetID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "asset-binary", string(data))
}

func TestBackupEncryptedArchive(t *testing.T) {
	f := newFixture(t, nil, RestoreOptions{
		ProcessorOptions: ProcessorOptions{Codec: archive.CodecZstd, Passphrase: "vault-secret"},
	})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	backupJob := f.runBackup(t, "app-1")
	require.Equal(t, JobStatusCompleted, backupJob.Status)

	restoreJob := f.runRestore(t, backupJob.ArchiveKey)
	require.Equal(t, JobStatusCompleted, restoreJob.Status)
	assert.Equal(t, int64(3), restoreJob.HandledEvents)
}

func TestBackupMissingAppFails(t *testing.T) {
	f := newFixture(t, nil, RestoreOptions{})

	job := f.runBackup(t, "ghost-app")
	require.Equal(t, JobStatusFailed, job.Status)
	require.NotEmpty(t, job.Log)
	assert.Contains(t, job.Log[len(job.Log)-1].Message, "backup failed")
}

func TestRestoreMissingArchiveFails(t *testing.T) {
	f := newFixture(t, nil, RestoreOptions{})

	job := f.runRestore(t, "archives/ghost/none.zip")
	require.Equal(t, JobStatusFailed, job.Status)
	assert.Empty(t, job.TargetAppID)
}

func TestRestoreFailureFlagsIncompleteApp(t *testing.T) {
	// An archive holding an event kind with no registered handler fails the
	// restore after the target app was created; the app must carry the
	// restore-incomplete flag.
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")

	env := event.Envelope{
		Stream:      "workflow/w1",
		EventNumber: 0,
		Type:        "Started",
		Payload:     json.RawMessage(`{"id":"w1"}`),
		Metadata:    event.Metadata{Timestamp: time.Now().UTC(), AppID: "app-1"},
	}
	require.NoError(t, f.events.Append(ctx, env.Stream, env))

	backupJob := f.runBackup(t, "app-1")
	// Backup fails too under the fail-closed policy; write the archive
	// directly instead so the restore side is what fails.
	require.Equal(t, JobStatusFailed, backupJob.Status)

	stage := t.TempDir() + "/manual.zip"
	w, err := archive.NewWriter(stage, archive.WriterOptions{App: archive.AppMetadata{ID: "app-1", Name: "Test App"}})
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(env))
	require.NoError(t, w.Close())
	data, err := os.ReadFile(stage)
	require.NoError(t, err)
	require.NoError(t, f.archives.Put(ctx, "archives/app-1/manual.zip", strings.NewReader(string(data))))

	restoreJob := f.runRestore(t, "archives/app-1/manual.zip")
	require.Equal(t, JobStatusFailed, restoreJob.Status)
	require.NotEmpty(t, restoreJob.TargetAppID)

	rec, err := f.archives.Get(ctx, "apps/"+restoreJob.TargetAppID+".json")
	require.NoError(t, err)
	raw, _ := io.ReadAll(rec)
	rec.Close()
	assert.Contains(t, string(raw), `"restore_incomplete": true`)
}

func TestBackupSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	// Another process holds the app's slot.
	require.NoError(t, f.ledger.ClaimBackupSlot(ctx, "app-1", "job-elsewhere"))

	_, err := f.backups.Start(ctx, "app-1")
	assert.True(t, IsType(err, EngineErrorTypeAlreadyRunning))

	jobs, err := f.backups.List(ctx, "app-1")
	require.NoError(t, err)
	assert.Empty(t, jobs, "a rejected start creates no job record")

	// After release, starting succeeds.
	require.NoError(t, f.ledger.ReleaseBackupSlot(ctx, "app-1"))
	job := f.runBackup(t, "app-1")
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestRestoreSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})

	require.NoError(t, f.ledger.ClaimRestoreSlot(ctx, "job-elsewhere"))
	_, err := f.restores.Start(ctx, "archives/app-1/x.zip", "operator")
	assert.True(t, IsType(err, EngineErrorTypeAlreadyRunning))
}

func TestBackupCancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")

	// Swap in an endless event source so the job cannot finish on its own.
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet, Output: io.Discard})
	require.NoError(t, err)
	slow := &endlessStore{}
	f.processor = NewProcessor(slow, f.assets, f.archives, f.apps, f.ledger, f.registry, logger,
		ProcessorOptions{TempDir: t.TempDir()})
	f.backups = NewBackupService(f.processor, f.ledger, f.archives, logger)

	job, err := f.backups.Start(ctx, "app-1")
	require.NoError(t, err)

	require.NoError(t, f.backups.Cancel("app-1"))

	final, err := f.backups.Get(ctx, "app-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, final.Status)

	cancelled := false
	for _, entry := range final.Log {
		if strings.Contains(entry.Message, "cancel") {
			cancelled = true
		}
	}
	assert.True(t, cancelled, "job log distinguishes cancellation from a crash")

	// The scope accepts new jobs afterwards.
	_, err = f.backups.Start(ctx, "app-1")
	require.NoError(t, err)
	require.NoError(t, f.backups.Cancel("app-1"))
}

// endlessStore yields content events forever, for cancellation tests.
type endlessStore struct{}

func (*endlessStore) ReadAllForApp(ctx context.Context, appID string) (event.Iterator, error) {
	return &endlessIterator{appID: appID}, nil
}

func (*endlessStore) Append(ctx context.Context, stream string, env event.Envelope) error {
	return nil
}

type endlessIterator struct {
	appID string
	n     int64
}

func (it *endlessIterator) Next() bool {
	it.n++
	time.Sleep(time.Millisecond)
	return true
}

func (it *endlessIterator) Envelope() event.Envelope {
	return event.Envelope{
		Stream:      "content/endless",
		EventNumber: it.n,
		Type:        "Updated",
		Payload:     json.RawMessage(`{"id":"endless"}`),
		Metadata:    event.Metadata{Timestamp: time.Now().UTC(), AppID: it.appID},
	}
}

func (it *endlessIterator) Err() error { return nil }

func (it *endlessIterator) Close() error { return nil }

func TestBackupDeleteRemovesArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	job := f.runBackup(t, "app-1")
	require.Equal(t, JobStatusCompleted, job.Status)

	require.NoError(t, f.backups.Delete(ctx, "app-1", job.ID))

	_, err := f.archives.Get(ctx, job.ArchiveKey)
	assert.ErrorIs(t, err, blob.ErrNotFound)
	_, err = f.backups.Get(ctx, "app-1", job.ID)
	assert.True(t, IsType(err, EngineErrorTypeNotFound))
}

func TestBackupDownload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	job := f.runBackup(t, "app-1")
	rc, key, err := f.backups.Download(ctx, "app-1", job.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, job.ArchiveKey, key)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRestoreStatusReportsLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, RestoreOptions{})
	f.registerApp(t, "app-1")
	f.seedContentStream(t, "app-1")

	status, err := f.restores.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, status)

	backupJob := f.runBackup(t, "app-1")
	restoreJob := f.runRestore(t, backupJob.ArchiveKey)

	status, err = f.restores.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, restoreJob.ID, status.ID)
}
