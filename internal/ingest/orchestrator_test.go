package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/queue"
	"github.com/glyphic-ai/enrichment-engine/internal/source"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

type fakeResolver struct {
	payload []byte
	err     error
}

func (f *fakeResolver) Resolve(context.Context, string) ([]byte, error) {
	return f.payload, f.err
}

type fakeRawStore struct {
	latest   *storage.RawSource
	inserted []*storage.RawSource
}

func (f *fakeRawStore) GetLatest(context.Context, string) (*storage.RawSource, error) {
	if f.latest == nil {
		return nil, storage.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeRawStore) InsertNewVersion(_ context.Context, src *storage.RawSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	src.Latest = true
	f.inserted = append(f.inserted, src)
	return nil
}

type fakeBatchStore struct {
	byRawSource map[uuid.UUID]*storage.CleansedBatch
	created     []*storage.CleansedBatch
	statuses    map[uuid.UUID]storage.BatchStatus
	finals      map[uuid.UUID]map[string]any
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{
		byRawSource: make(map[uuid.UUID]*storage.CleansedBatch),
		statuses:    make(map[uuid.UUID]storage.BatchStatus),
		finals:      make(map[uuid.UUID]map[string]any),
	}
}

func (f *fakeBatchStore) Create(_ context.Context, batch *storage.CleansedBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	f.created = append(f.created, batch)
	f.byRawSource[batch.RawSourceID] = batch
	return nil
}

func (f *fakeBatchStore) GetByRawSource(_ context.Context, rawSourceID uuid.UUID) (*storage.CleansedBatch, error) {
	batch, ok := f.byRawSource[rawSourceID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return batch, nil
}

func (f *fakeBatchStore) UpdateStatus(_ context.Context, id uuid.UUID, status storage.BatchStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeBatchStore) UpdateFinal(_ context.Context, id uuid.UUID, status storage.BatchStatus, diagnostics map[string]any) error {
	f.statuses[id] = status
	f.finals[id] = diagnostics
	return nil
}

type fakeHashStore struct {
	rows map[string]*storage.ContentHashRow
}

func newFakeHashStore() *fakeHashStore {
	return &fakeHashStore{rows: make(map[string]*storage.ContentHashRow)}
}

func hashKey(sourcePath, itemType, usagePath string) string {
	return sourcePath + "|" + itemType + "|" + usagePath
}

func (f *fakeHashStore) Get(_ context.Context, sourcePath, itemType, usagePath string) (*storage.ContentHashRow, error) {
	row, ok := f.rows[hashKey(sourcePath, itemType, usagePath)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row, nil
}

func (f *fakeHashStore) Upsert(_ context.Context, row *storage.ContentHashRow) error {
	f.rows[hashKey(row.SourcePath, row.ItemType, row.UsagePath)] = row
	return nil
}

type fakeTrackerStore struct {
	trackers []*storage.JobTracker
}

func (f *fakeTrackerStore) Create(_ context.Context, tracker *storage.JobTracker) error {
	f.trackers = append(f.trackers, tracker)
	return nil
}

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(_ context.Context, body []byte) (string, error) {
	f.sent = append(f.sent, body)
	return uuid.NewString(), nil
}

type fixture struct {
	orchestrator *Orchestrator
	raws         *fakeRawStore
	batches      *fakeBatchStore
	hashes       *fakeHashStore
	trackers     *fakeTrackerStore
	sender       *fakeSender
}

func newFixture(resolver PayloadResolver) *fixture {
	f := &fixture{
		raws:     &fakeRawStore{},
		batches:  newFakeBatchStore(),
		hashes:   newFakeHashStore(),
		trackers: &fakeTrackerStore{},
		sender:   &fakeSender{},
	}
	f.orchestrator = NewOrchestrator(
		resolver,
		extract.NewExtractor(observability.Nop()),
		f.raws, f.batches, f.hashes, f.trackers, f.sender,
		observability.Nop(),
	)
	return f
}

const heroDoc = `{"content":{"sections":[{"_model":"hero-section","_path":"/en_US/hero","copy":"Hello {%nbsp%}world"}]}}`

func TestIngestURIFirstVersion(t *testing.T) {
	f := newFixture(&fakeResolver{payload: []byte(heroDoc)})

	result, err := f.orchestrator.IngestURI(context.Background(), "s3://b/doc.json")
	require.NoError(t, err)

	assert.Equal(t, storage.StatusEnrichmentInProgress, result.Status)
	assert.Equal(t, 1, result.Version)
	assert.NotEqual(t, uuid.Nil, result.JobID)
	assert.False(t, result.Terminal())
	assert.Equal(t, 1, result.EnqueuedCount)

	require.Len(t, f.raws.inserted, 1)
	assert.True(t, f.raws.inserted[0].Latest)

	require.Len(t, f.batches.created, 1)
	batch := f.batches.created[0]
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "Hello world", batch.Items[0].CleansedContent)
	assert.Equal(t, storage.StatusEnrichmentInProgress, f.batches.statuses[batch.ID])

	require.Len(t, f.trackers.trackers, 1)
	assert.Equal(t, 1, f.trackers.trackers[0].TotalItems)

	require.Len(t, f.sender.sent, 1)
	msg, err := queue.DecodeMessage(f.sender.sent[0])
	require.NoError(t, err)
	assert.Equal(t, result.JobID, msg.JobID)
	assert.Equal(t, "Hello world", msg.CleansedContent)
	assert.Equal(t, "hero", msg.Context.ItemType)
	assert.Equal(t, 1, msg.TotalItems)
}

func TestIngestIdenticalPayloadReturnsExistingBatch(t *testing.T) {
	f := newFixture(&fakeResolver{payload: []byte(heroDoc)})

	first, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)

	f.raws.latest = f.raws.inserted[0]
	second, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)

	assert.Equal(t, storage.StatusProcessedNoChanges, second.Status)
	assert.Equal(t, first.CleansedDataID, second.CleansedDataID)
	assert.True(t, second.Terminal())
	// No new raw version, no new batch, no new messages.
	assert.Len(t, f.raws.inserted, 1)
	assert.Len(t, f.batches.created, 1)
	assert.Len(t, f.sender.sent, 1)
}

func TestIngestChangedPayloadBumpsVersion(t *testing.T) {
	f := newFixture(&fakeResolver{payload: []byte(heroDoc)})

	_, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	f.raws.latest = f.raws.inserted[0]

	changed := `{"content":{"sections":[{"_model":"hero-section","_path":"/en_US/hero","copy":"Fresh copy"}]}}`
	f.orchestrator.resolver = &fakeResolver{payload: []byte(changed)}

	result, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Version)
	require.Len(t, f.raws.inserted, 2)
	assert.Equal(t, 2, f.raws.inserted[1].Version)
}

func TestIngestNoChangedItemsProcessedNoChanges(t *testing.T) {
	f := newFixture(&fakeResolver{payload: []byte(heroDoc)})
	_, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	f.raws.latest = f.raws.inserted[0]

	// Different bytes, same extracted content: whitespace inside a JSON
	// object changes the payload hash but not the items.
	reordered := `{"content": {"sections":[{"_model":"hero-section","_path":"/en_US/hero","copy":"Hello {%nbsp%}world"}]}}`
	f.orchestrator.resolver = &fakeResolver{payload: []byte(reordered)}

	result, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusProcessedNoChanges, result.Status)
	assert.True(t, result.Terminal())
	// The terminal batch row exists with zero items.
	require.Len(t, f.batches.created, 2)
	assert.Empty(t, f.batches.created[1].Items)
}

func TestIngestInvalidJSON(t *testing.T) {
	f := newFixture(&fakeResolver{payload: []byte("not json at all")})

	result, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusJSONParseError, result.Status)
	require.Len(t, f.batches.created, 1)
	assert.Equal(t, storage.StatusJSONParseError, f.batches.created[0].Status)
}

func TestIngestRootNotObject(t *testing.T) {
	f := newFixture(&fakeResolver{payload: []byte(`[1,2,3]`)})

	result, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExtractionFailed, result.Status)
}

func TestIngestResolutionFailure(t *testing.T) {
	f := newFixture(&fakeResolver{err: source.ErrNotFound})

	result, err := f.orchestrator.IngestURI(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSourceFileNotFound, result.Status)
	assert.Empty(t, f.raws.inserted)
}

func TestIngestPayloadInline(t *testing.T) {
	f := newFixture(&fakeResolver{})

	result, err := f.orchestrator.IngestPayload(context.Background(), []byte(heroDoc))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnrichmentInProgress, result.Status)
	assert.Contains(t, result.SourceURI, "api-payload-")
}

func TestIngestPayloadEmpty(t *testing.T) {
	f := newFixture(&fakeResolver{})

	result, err := f.orchestrator.IngestPayload(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEmptyPayload, result.Status)
}

func TestIngestAllItemsEmptyText(t *testing.T) {
	// Every copy field cleanses to nothing.
	doc := `{"copy":"{%token%}"}`
	f := newFixture(&fakeResolver{payload: []byte(doc)})

	result, err := f.orchestrator.IngestURI(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusEnrichedAllSkippedEmptyText, result.Status)
	assert.True(t, result.Terminal())
	assert.Empty(t, f.sender.sent)
	assert.Empty(t, f.trackers.trackers)

	summary := f.batches.finals[result.CleansedDataID]
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary["totalDeserializedItems"])
	assert.Equal(t, 0, summary["itemsAttempted"])
}
