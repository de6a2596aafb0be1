package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
)

// MinWatermark is the watermark of a table that has never been replicated.
var MinWatermark = time.Time{}

// layouts accepted when decoding; the first is the one written. The
// zone-less form matches checkpoints written by naive-datetime producers and
// is read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

// Key returns the mapping key holding table's watermark.
func Key(table string) string {
	return table + "_modified"
}

func encode(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func decode(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// State is the watermark view over a Storage. It is the only writer of the
// mapping within a process; writes are serialized by a mutex.
type State struct {
	storage Storage
	mu      sync.Mutex
	logger  *slog.Logger
}

func New(storage Storage) *State {
	return &State{
		storage: storage,
		logger:  slog.Default().With("component", "state"),
	}
}

// Get returns table's watermark and whether one was stored.
func (s *State) Get(ctx context.Context, table string) (time.Time, bool, error) {
	mapping, err := s.storage.Retrieve(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, ok := mapping[Key(table)]
	if !ok {
		return MinWatermark, false, nil
	}
	ts, err := decode(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: watermark for %s: %w", apperrors.ErrStorageUnavailable, table, err)
	}
	return ts, true, nil
}

// Set stores ts as table's watermark. A value older than the stored one is
// ignored so the watermark never moves backwards.
func (s *State) Set(ctx context.Context, table string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping, err := s.storage.Retrieve(ctx)
	if err != nil {
		return err
	}
	if raw, ok := mapping[Key(table)]; ok {
		if current, err := decode(raw); err == nil && ts.Before(current) {
			s.logger.Warn("ignoring watermark regression",
				"table", table,
				"current", current,
				"proposed", ts,
			)
			return nil
		}
	}
	mapping[Key(table)] = encode(ts)
	if err := s.storage.Save(ctx, mapping); err != nil {
		return err
	}
	s.logger.Debug("watermark stored", "table", table, "watermark", ts)
	return nil
}

// Ensure initializes every table without a watermark to MinWatermark in a
// single write.
func (s *State) Ensure(ctx context.Context, tables []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping, err := s.storage.Retrieve(ctx)
	if err != nil {
		return err
	}
	var added []string
	for _, table := range tables {
		if _, ok := mapping[Key(table)]; !ok {
			mapping[Key(table)] = encode(MinWatermark)
			added = append(added, table)
		}
	}
	if len(added) == 0 {
		return nil
	}
	if err := s.storage.Save(ctx, mapping); err != nil {
		return err
	}
	s.logger.Info("initialized watermarks", "tables", added)
	return nil
}

// Snapshot returns the watermarks of tables, MinWatermark for unknown ones.
func (s *State) Snapshot(ctx context.Context, tables []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(tables))
	for _, table := range tables {
		ts, _, err := s.Get(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = ts
	}
	return out, nil
}
