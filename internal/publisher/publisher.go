// Package publisher writes aggregate documents to the search index in one
// bulk request per batch, retrying connectivity failures with capped
// exponential backoff.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/transformer"
	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/resilience"
)

// BulkIndexer sends one bulk request of alternating action and document
// entries. Errors that may succeed on a later attempt must wrap
// apperrors.ErrTransient.
type BulkIndexer interface {
	Bulk(ctx context.Context, index string, pairs []any) error
}

type Config struct {
	Index   string
	Backoff resilience.Backoff
	// MaxAttempts of zero retries until the write goes through.
	MaxAttempts int
	Clock       clock.Clock
}

type Publisher struct {
	indexer BulkIndexer
	index   string
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Publisher. m may be nil.
func New(indexer BulkIndexer, cfg Config, m *metrics.Metrics) *Publisher {
	p := &Publisher{
		indexer: indexer,
		index:   cfg.Index,
		metrics: m,
		logger:  slog.Default().With("component", "publisher"),
	}
	p.retry = resilience.RetryConfig{
		Backoff:     cfg.Backoff,
		MaxAttempts: cfg.MaxAttempts,
		Retryable:   apperrors.IsTransient,
		Clock:       cfg.Clock,
		OnRetry: func(int, time.Duration, error) {
			if p.metrics != nil {
				p.metrics.PublishRetries.Inc()
			}
		},
	}
	return p
}

// Publish upserts docs by id. An empty slice makes no request. It blocks until
// the write succeeds, fails with a non-transient error, exhausts MaxAttempts
// or ctx is cancelled.
func (p *Publisher) Publish(ctx context.Context, docs []transformer.Document) error {
	if len(docs) == 0 {
		return nil
	}
	pairs := transformer.BulkPairs(p.index, docs)
	start := time.Now()
	err := resilience.Retry(ctx, "bulk "+p.index, p.retry, func() error {
		return p.indexer.Bulk(ctx, p.index, pairs)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.StagePublish, "", err)
	}
	if p.metrics != nil {
		p.metrics.DocsPublishedTotal.Add(float64(len(docs)))
	}
	p.logger.Info("documents published",
		"index", p.index,
		"count", len(docs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
