// Package extractor turns "table X changed since its watermark" into the full
// joined rows of every primary entity affected by those changes. It runs in
// three steps: produce (changed ids of the polled table), enrich (primary
// entities linked to them) and merge (the denormalizing join for those
// entities).
package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/resilience"
)

// Rows is the cursor returned by a Querier. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier executes a parameterized query and returns its rows in order.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

type dbQuerier struct {
	db *sql.DB
}

// FromDB adapts a database/sql pool to Querier.
func FromDB(db *sql.DB) Querier {
	return dbQuerier{db: db}
}

func (q dbQuerier) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// WatermarkStore reads and advances per-table watermarks.
type WatermarkStore interface {
	Get(ctx context.Context, table string) (time.Time, bool, error)
	Set(ctx context.Context, table string, ts time.Time) error
}

// ChangeRow is one row returned by the produce step.
type ChangeRow struct {
	ID       string
	Modified time.Time
}

// Row is one (entity, person role, genre) combination of the merge join.
// Person and genre fields are empty when the entity has no such link.
type Row struct {
	EntityID    string
	Title       string
	Description string
	Rating      *float64
	Role        string
	PersonName  string
	PersonID    string
	GenreName   string
}

// Batch is the result of one extraction. Watermark is the greatest modified
// value among the changed rows; it is committed only after the batch has been
// published.
type Batch struct {
	Table     string
	Changed   []ChangeRow
	EntityIDs []string
	Rows      []Row
	Watermark time.Time
}

type Config struct {
	Schema       string
	PrimaryTable string
	// IDType is the SQL type of the id columns, used to cast array
	// parameters.
	IDType       string
	BatchSize    int
	QueryTimeout time.Duration
}

type Extractor struct {
	db     Querier
	state  WatermarkStore
	cfg    Config
	logger *slog.Logger
}

func New(db Querier, state WatermarkStore, cfg Config) (*Extractor, error) {
	if cfg.IDType == "" {
		cfg.IDType = "uuid"
	}
	for _, name := range []string{cfg.Schema, cfg.PrimaryTable, cfg.IDType} {
		if !config.ValidIdentifier(name) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "extractor: bad identifier %q", name)
		}
	}
	if cfg.BatchSize <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "extractor: batch size must be positive, got %d", cfg.BatchSize)
	}
	return &Extractor{
		db:     db,
		state:  state,
		cfg:    cfg,
		logger: slog.Default().With("component", "extractor"),
	}, nil
}

// ExtractBatch returns the joined rows of every entity affected by the next
// batch of changes in table. It returns an error wrapping ErrNoChanges when
// the table has nothing past its watermark. The watermark is not modified.
func (e *Extractor) ExtractBatch(ctx context.Context, table string) (*Batch, error) {
	if !config.ValidIdentifier(table) {
		return nil, apperrors.Wrap(apperrors.StageProduce, table,
			apperrors.Newf(apperrors.ErrInvalidInput, "bad table name %q", table))
	}

	changed, err := e.produce(ctx, table)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StageProduce, table, err)
	}
	if len(changed) == 0 {
		return nil, fmt.Errorf("%s: %w", table, apperrors.ErrNoChanges)
	}

	batch := &Batch{Table: table, Changed: changed}
	ids := make([]string, 0, len(changed))
	for _, c := range changed {
		ids = append(ids, c.ID)
		if c.Modified.After(batch.Watermark) {
			batch.Watermark = c.Modified
		}
	}
	e.logger.Info("found modified records", "table", table, "count", len(changed), "up_to", batch.Watermark)

	batch.EntityIDs, err = e.enrich(ctx, table, ids)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StageEnrich, table, err)
	}

	batch.Rows, err = e.merge(ctx, batch.EntityIDs)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StageMerge, table, err)
	}
	e.logger.Debug("batch extracted",
		"table", table,
		"entities", len(batch.EntityIDs),
		"rows", len(batch.Rows),
	)
	return batch, nil
}

// Commit advances the batch table's watermark to the batch upper bound.
func (e *Extractor) Commit(ctx context.Context, batch *Batch) error {
	if err := e.state.Set(ctx, batch.Table, batch.Watermark); err != nil {
		return apperrors.Wrap(apperrors.StageCommit, batch.Table, err)
	}
	return nil
}

func (e *Extractor) produce(ctx context.Context, table string) ([]ChangeRow, error) {
	since, _, err := e.state.Get(ctx, table)
	if err != nil {
		return nil, err
	}
	var out []ChangeRow
	err = e.query(ctx, "produce "+table, changesQuery(e.cfg.Schema, table),
		[]any{since, e.cfg.BatchSize},
		func(rows Rows) error {
			var c ChangeRow
			if err := rows.Scan(&c.ID, &c.Modified); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	return out, err
}

func (e *Extractor) enrich(ctx context.Context, table string, ids []string) ([]string, error) {
	if table == e.cfg.PrimaryTable {
		return ids, nil
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var out []string
	err := e.query(ctx, "enrich "+table,
		affectedQuery(e.cfg.Schema, table, e.cfg.PrimaryTable, e.cfg.IDType),
		[]any{pq.StringArray(ids)},
		func(rows Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
			return nil
		})
	return out, err
}

func (e *Extractor) merge(ctx context.Context, entityIDs []string) ([]Row, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	var out []Row
	err := e.query(ctx, "merge", joinedQuery(e.cfg.Schema, e.cfg.PrimaryTable, e.cfg.IDType),
		[]any{pq.StringArray(entityIDs)},
		func(rows Rows) error {
			var r Row
			var description, role, name, pid, genre sql.NullString
			var rating sql.NullFloat64
			if err := rows.Scan(&r.EntityID, &r.Title, &description, &rating, &role, &name, &pid, &genre); err != nil {
				return err
			}
			r.Description = description.String
			if rating.Valid {
				v := rating.Float64
				r.Rating = &v
			}
			r.Role = role.String
			r.PersonName = name.String
			r.PersonID = pid.String
			r.GenreName = genre.String
			out = append(out, r)
			return nil
		})
	return out, err
}

// query runs one statement under the configured timeout and feeds every row
// to scan.
func (e *Extractor) query(ctx context.Context, name, query string, args []any, scan func(Rows) error) error {
	return resilience.WithTimeout(ctx, e.cfg.QueryTimeout, name, func(ctx context.Context) error {
		rows, err := e.db.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating rows: %w", err)
		}
		return nil
	})
}
