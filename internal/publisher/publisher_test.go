package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/transformer"
	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/resilience"
)

// memoryIndex upserts documents by id, like the real index does.
type memoryIndex struct {
	mu       sync.Mutex
	docs     map[string]transformer.Document
	calls    int
	failures []error
}

func newMemoryIndex(failures ...error) *memoryIndex {
	return &memoryIndex{docs: make(map[string]transformer.Document), failures: failures}
}

func (m *memoryIndex) Bulk(_ context.Context, index string, pairs []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		action := pairs[i].(transformer.BulkAction)
		if action.Index.Index != index {
			return errors.New("action targets another index")
		}
		m.docs[action.Index.ID] = pairs[i+1].(transformer.Document)
	}
	return nil
}

var fastBackoff = resilience.Backoff{Start: time.Millisecond, Factor: 2, Cap: 4 * time.Millisecond}

func docs(ids ...string) []transformer.Document {
	out := make([]transformer.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, transformer.Document{ID: id, Title: "title " + id})
	}
	return out
}

func TestPublishIsIdempotent(t *testing.T) {
	idx := newMemoryIndex()
	p := New(idx, Config{Index: "movies", Backoff: fastBackoff}, nil)

	require.NoError(t, p.Publish(context.Background(), docs("fw-1", "fw-2")))
	first := make(map[string]transformer.Document, len(idx.docs))
	for k, v := range idx.docs {
		first[k] = v
	}
	require.NoError(t, p.Publish(context.Background(), docs("fw-1", "fw-2")))

	assert.Equal(t, first, idx.docs)
	assert.Len(t, idx.docs, 2)
}

func TestPublishEmptyMakesNoRequest(t *testing.T) {
	idx := newMemoryIndex()
	p := New(idx, Config{Index: "movies"}, nil)
	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Zero(t, idx.calls)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	down := apperrors.Transient(errors.New("connection refused"))
	idx := newMemoryIndex(down, down, down)
	m := metrics.New(prometheus.NewRegistry())
	p := New(idx, Config{Index: "movies", Backoff: fastBackoff}, m)

	require.NoError(t, p.Publish(context.Background(), docs("fw-1")))
	assert.Equal(t, 4, idx.calls)
	assert.Contains(t, idx.docs, "fw-1")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PublishRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsPublishedTotal))
}

func TestPublishFatalFailureIsNotRetried(t *testing.T) {
	bad := apperrors.Newf(apperrors.ErrFatal, "mapper_parsing_exception")
	idx := newMemoryIndex(bad)
	p := New(idx, Config{Index: "movies", Backoff: fastBackoff}, nil)

	err := p.Publish(context.Background(), docs("fw-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFatal)
	assert.Equal(t, apperrors.StagePublish, apperrors.StageOf(err))
	assert.Equal(t, 1, idx.calls)
	assert.Empty(t, idx.docs)
}

func TestPublishStopsOnCancel(t *testing.T) {
	down := apperrors.Transient(errors.New("connection refused"))
	failures := make([]error, 1000)
	for i := range failures {
		failures[i] = down
	}
	idx := newMemoryIndex(failures...)
	p := New(idx, Config{Index: "movies", Backoff: fastBackoff}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, docs("fw-1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishedDocumentShape(t *testing.T) {
	idx := newMemoryIndex()
	p := New(idx, Config{Index: "movies"}, nil)
	rating := 7.1
	doc := transformer.Document{
		ID: "fw-1", Title: "Alien", Rating: &rating,
		Genres: []string{"Horror"}, Director: "Ridley Scott",
		ActorsNames: []string{"Sigourney Weaver"}, WritersNames: []string{},
		Actors:  []transformer.Person{{ID: "p-4", Name: "Sigourney Weaver"}},
		Writers: []transformer.Person{},
	}
	require.NoError(t, p.Publish(context.Background(), []transformer.Document{doc}))

	raw, err := json.Marshal(idx.docs["fw-1"])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "fw-1", "imdb_rating": 7.1, "genre": ["Horror"], "title": "Alien",
		"description": "", "director": "Ridley Scott",
		"actors_names": ["Sigourney Weaver"], "writers_names": [],
		"actors": [{"id": "p-4", "name": "Sigourney Weaver"}], "writers": []
	}`, string(raw))
}
