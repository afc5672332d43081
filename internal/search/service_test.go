package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

type fakeEmbedder struct {
	embedding []float32
	err       error
	queries   []string
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	return f.embedding, f.err
}

type fakeStore struct {
	hits    []storage.SearchHit
	err     error
	filters []storage.SearchFilter
}

func (f *fakeStore) Search(_ context.Context, _ []float32, filter storage.SearchFilter) ([]storage.SearchHit, error) {
	f.filters = append(f.filters, filter)
	return f.hits, f.err
}

func newService(embedder *fakeEmbedder, store *fakeStore) *Service {
	return NewService(embedder, store, observability.Nop())
}

func hit(section uuid.UUID, distance float64, tags, keywords []string, sectionName string) storage.SearchHit {
	return storage.SearchHit{
		SectionID: section,
		ChunkID:   uuid.New(),
		Tags:      tags,
		Keywords:  keywords,
		Distance:  distance,
		Context: map[string]any{
			"envelope": map[string]any{"sectionName": sectionName, "locale": "en_US"},
			"facets":   map[string]any{"sectionModel": "hero-section"},
		},
	}
}

func TestSearchPassesFilterThrough(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{0.1, 0.2}}
	store := &fakeStore{hits: []storage.SearchHit{hit(uuid.New(), 0.2, nil, nil, "")}}
	svc := newService(embedder, store)

	hits, err := svc.Search(context.Background(), Request{
		Query:             "alpine skis",
		OriginalFieldName: "copy",
		Tags:              []string{"winter"},
		Keywords:          []string{"skis"},
		Threshold:         0.5,
		Limit:             5,
	})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	assert.Equal(t, []string{"alpine skis"}, embedder.queries)
	require.Len(t, store.filters, 1)
	filter := store.filters[0]
	assert.Equal(t, "copy", filter.OriginalFieldName)
	assert.Equal(t, []string{"winter"}, filter.Tags)
	assert.Equal(t, []string{"skis"}, filter.Keywords)
	assert.Equal(t, 0.5, filter.Threshold)
	assert.Equal(t, 5, filter.Limit)
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	svc := newService(&fakeEmbedder{}, &fakeStore{})
	_, err := svc.Search(context.Background(), Request{})
	require.Error(t, err)
}

func TestSearchEmbedderFailure(t *testing.T) {
	svc := newService(&fakeEmbedder{err: errors.New("model down")}, &fakeStore{})
	_, err := svc.Search(context.Background(), Request{Query: "q"})
	require.ErrorContains(t, err, "embed query")
}

func TestRefineUsesBroadFilter(t *testing.T) {
	store := &fakeStore{}
	svc := newService(&fakeEmbedder{embedding: []float32{1}}, store)

	_, err := svc.Refine(context.Background(), "skis")
	require.NoError(t, err)

	require.Len(t, store.filters, 1)
	assert.Equal(t, 0.9, store.filters[0].Threshold)
	assert.Equal(t, 20, store.filters[0].Limit)
}

func TestRefineAggregatesChips(t *testing.T) {
	sectionA := uuid.New()
	sectionB := uuid.New()
	store := &fakeStore{hits: []storage.SearchHit{
		hit(sectionA, 0.1, []string{"winter"}, []string{"skis"}, "Hero"),
		hit(sectionA, 0.2, []string{"winter"}, nil, "Hero"),
		hit(sectionB, 0.3, []string{"winter"}, []string{"boots"}, "Footer"),
	}}
	svc := newService(&fakeEmbedder{embedding: []float32{1}}, store)

	chips, err := svc.Refine(context.Background(), "skis")
	require.NoError(t, err)

	byKey := make(map[string]Chip)
	for _, c := range chips {
		byKey[c.Type+"/"+c.Value] = c
	}

	winter := byKey["Tag/winter"]
	assert.InDelta(t, 0.9+0.8+0.7, winter.Score, 1e-9)
	assert.Equal(t, 2, winter.Count, "count is distinct sections, not hits")

	skis := byKey["Keyword/skis"]
	assert.InDelta(t, 0.9, skis.Score, 1e-9)
	assert.Equal(t, 1, skis.Count)

	heroName := byKey["Context:envelope.sectionName/Hero"]
	assert.InDelta(t, 0.9+0.8, heroName.Score, 1e-9)
	assert.Equal(t, 1, heroName.Count)

	model := byKey["Context:facets.sectionModel/hero-section"]
	assert.Equal(t, 2, model.Count)

	locale := byKey["Context:envelope.locale/en_US"]
	assert.InDelta(t, 0.9+0.8+0.7, locale.Score, 1e-9)

	// Country is absent from every hit, so no chip.
	for key := range byKey {
		assert.NotContains(t, key, "envelope.country")
	}
}

func TestRefineTopTenByScore(t *testing.T) {
	var hits []storage.SearchHit
	for i := 0; i < 15; i++ {
		h := storage.SearchHit{
			SectionID: uuid.New(),
			Tags:      []string{fmt.Sprintf("tag-%02d", i)},
			Distance:  float64(i) * 0.05,
		}
		hits = append(hits, h)
	}
	svc := newService(&fakeEmbedder{embedding: []float32{1}}, &fakeStore{hits: hits})

	chips, err := svc.Refine(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, chips, 10)
	// Sorted by descending score: nearest hits first.
	assert.Equal(t, "tag-00", chips[0].Value)
	assert.Equal(t, "tag-09", chips[9].Value)
	for i := 1; i < len(chips); i++ {
		assert.GreaterOrEqual(t, chips[i-1].Score, chips[i].Score)
	}
}

func TestRefineNoHits(t *testing.T) {
	svc := newService(&fakeEmbedder{embedding: []float32{1}}, &fakeStore{})
	chips, err := svc.Refine(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, chips)
}
