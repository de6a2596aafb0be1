package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
)

// NewElasticClient builds a search-engine client from cfg. The client's own
// retries are disabled; Publisher owns the retry policy.
func NewElasticClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return es, nil
}

// ElasticIndexer writes bulk requests with the Elasticsearch bulk API and
// waits for the written documents to become searchable.
type ElasticIndexer struct {
	es     *elasticsearch.Client
	logger *slog.Logger
}

func NewElasticIndexer(es *elasticsearch.Client) *ElasticIndexer {
	return &ElasticIndexer{
		es:     es,
		logger: slog.Default().With("component", "elastic-indexer"),
	}
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Bulk sends pairs as one NDJSON bulk request. Connection failures, and
// responses asking the caller to back off, come back wrapped as transient.
func (i *ElasticIndexer) Bulk(ctx context.Context, index string, pairs []any) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, p := range pairs {
		if err := enc.Encode(p); err != nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, "encoding bulk line: %v", err)
		}
	}

	res, err := i.es.Bulk(&body,
		i.es.Bulk.WithContext(ctx),
		i.es.Bulk.WithIndex(index),
		i.es.Bulk.WithRefresh("true"),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Transient(fmt.Errorf("bulk request: %w", err))
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := fmt.Errorf("bulk request: status %d: %s", res.StatusCode, bytes.TrimSpace(msg))
		if retryableStatus(res.StatusCode) {
			return apperrors.Transient(err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrFatal, err)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return apperrors.Transient(fmt.Errorf("decoding bulk response: %w", err))
	}
	if !parsed.Errors {
		return nil
	}
	return i.itemErrors(parsed)
}

// itemErrors turns per-document failures into one error. Rejections caused by
// back-pressure are retried; anything else is a mapping or document problem
// that retrying will not fix.
func (i *ElasticIndexer) itemErrors(parsed bulkResponse) error {
	failed, throttled := 0, 0
	var first bulkResponseItem
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Status < 300 {
				continue
			}
			if failed == 0 {
				first = result
			}
			failed++
			if retryableStatus(result.Status) {
				throttled++
			}
		}
	}
	if failed == 0 {
		return nil
	}
	i.logger.Warn("bulk items failed",
		"failed", failed,
		"total", len(parsed.Items),
		"first_id", first.ID,
		"first_error", string(first.Error),
	)
	err := fmt.Errorf("bulk: %d of %d items failed, first %s: %s", failed, len(parsed.Items), first.ID, first.Error)
	if throttled == failed {
		return apperrors.Transient(err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrFatal, err)
}

// Ping checks that the cluster answers.
func (i *ElasticIndexer) Ping(ctx context.Context) error {
	res, err := i.es.Ping(i.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: status %d", res.StatusCode)
	}
	return nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
