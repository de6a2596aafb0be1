// Package pipeline drives replication: it polls the configured tables in a
// fixed round-robin order and, for every batch of changes, runs extract,
// transform, publish and watermark commit before moving on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/transformer"
	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/tracing"
)

type Extractor interface {
	ExtractBatch(ctx context.Context, table string) (*extractor.Batch, error)
	Commit(ctx context.Context, batch *extractor.Batch) error
}

type Publisher interface {
	Publish(ctx context.Context, docs []transformer.Document) error
}

// Notifier is told about every committed batch. It must not block for long
// and has no way to fail the cycle.
type Notifier interface {
	IndexUpdated(ctx context.Context, table string, ids []string, watermark time.Time)
}

type Config struct {
	Tables []string
	// IdleSleep follows every replicated batch.
	IdleSleep time.Duration
	// EmptyRoundSleep follows a round in which every table had no changes.
	EmptyRoundSleep time.Duration
	Clock           clock.Clock
	// Wake cuts the current sleep short. Optional.
	Wake <-chan struct{}
}

type Pipeline struct {
	extractor Extractor
	publisher Publisher
	notifier  Notifier
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger

	cycles    uint64
	heartbeat atomic.Int64
}

// New creates a Pipeline. m may be nil.
func New(ext Extractor, pub Publisher, cfg Config, m *metrics.Metrics) (*Pipeline, error) {
	if len(cfg.Tables) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "pipeline: no tables to poll")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Pipeline{
		extractor: ext,
		publisher: pub,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "pipeline"),
	}, nil
}

// SetNotifier registers n to hear about committed batches.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Heartbeat returns the time the last iteration finished, or the zero time
// before the first one.
func (p *Pipeline) Heartbeat() time.Time {
	ns := p.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run polls until ctx is cancelled, which is not an error. Any failure other
// than a table having no changes stops the loop and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	tables := p.cfg.Tables
	p.logger.Info("pipeline started",
		"tables", tables,
		"idle_sleep", p.cfg.IdleSleep,
		"empty_round_sleep", p.cfg.EmptyRoundSleep,
	)
	emptyRound := true
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
		pos := i % len(tables)
		err := p.RunOnce(ctx, tables[pos])
		p.heartbeat.Store(p.cfg.Clock.Now().UnixNano())

		switch {
		case err == nil:
			emptyRound = false
			p.sleep(ctx, p.cfg.IdleSleep)
		case apperrors.IsNoChanges(err):
		case ctx.Err() != nil:
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
			if p.metrics != nil {
				p.metrics.ErrorsTotal.WithLabelValues(string(apperrors.StageOf(err))).Inc()
			}
			p.logger.Error("cycle failed", "table", tables[pos], "stage", apperrors.StageOf(err), "error", err)
			return err
		}

		if pos == len(tables)-1 {
			if emptyRound {
				p.sleep(ctx, p.cfg.EmptyRoundSleep)
			}
			emptyRound = true
		}
	}
}

// RunOnce replicates the next batch of changes in table. It returns an error
// wrapping ErrNoChanges when there is nothing to do; the watermark is then
// left as it was. The watermark only moves after a successful publish.
func (p *Pipeline) RunOnce(ctx context.Context, table string) error {
	p.cycles++
	ctx = logger.WithTable(logger.WithCycle(ctx, p.cycles), table)
	log := logger.FromContext(ctx)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "cycle", fmt.Sprintf("%s-%d", table, p.cycles))
	span.SetAttr("table", table)
	defer func() {
		span.End()
		span.Log(log)
	}()

	extractCtx, s := tracing.StartChildSpan(ctx, "extract")
	batch, err := p.extractor.ExtractBatch(extractCtx, table)
	s.End()
	if err != nil {
		if apperrors.IsNoChanges(err) {
			if p.metrics != nil {
				p.metrics.NoChangesTotal.WithLabelValues(table).Inc()
			}
			log.Debug("no changes")
		}
		return err
	}
	s.SetAttr("changed", len(batch.Changed))
	s.SetAttr("entities", len(batch.EntityIDs))
	s.SetAttr("rows", len(batch.Rows))
	if p.metrics != nil {
		p.metrics.RowsExtractedTotal.WithLabelValues(table, string(apperrors.StageProduce)).Add(float64(len(batch.Changed)))
		p.metrics.RowsExtractedTotal.WithLabelValues(table, string(apperrors.StageEnrich)).Add(float64(len(batch.EntityIDs)))
		p.metrics.RowsExtractedTotal.WithLabelValues(table, string(apperrors.StageMerge)).Add(float64(len(batch.Rows)))
	}

	_, s = tracing.StartChildSpan(ctx, "transform")
	docs := transformer.Transform(batch.Rows)
	s.SetAttr("documents", len(docs))
	s.End()
	log.Info("batch transformed", "changed", len(batch.Changed), "documents", len(docs))

	publishCtx, s := tracing.StartChildSpan(ctx, "publish")
	err = p.publisher.Publish(publishCtx, docs)
	s.End()
	if err != nil {
		return withStage(err, apperrors.StagePublish, table)
	}

	commitCtx, s := tracing.StartChildSpan(ctx, "commit")
	err = p.extractor.Commit(commitCtx, batch)
	s.End()
	if err != nil {
		return withStage(err, apperrors.StageCommit, table)
	}

	if p.metrics != nil {
		p.metrics.BatchesTotal.WithLabelValues(table).Inc()
		p.metrics.Watermark.WithLabelValues(table).Set(float64(batch.Watermark.UnixNano()) / 1e9)
		p.metrics.CycleDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	}
	if p.notifier != nil && len(docs) > 0 {
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		p.notifier.IndexUpdated(ctx, table, ids, batch.Watermark)
	}
	log.Info("batch replicated",
		"documents", len(docs),
		"watermark", batch.Watermark,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// sleep waits for d, a wake-up or cancellation, whichever comes first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-p.cfg.Clock.After(d):
	case <-p.cfg.Wake:
		p.logger.Debug("woken early")
	case <-ctx.Done():
	}
}

func withStage(err error, stage apperrors.Stage, table string) error {
	var se *apperrors.StageError
	if errors.As(err, &se) {
		return err
	}
	return apperrors.Wrap(stage, table, err)
}
