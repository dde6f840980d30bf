// Package postgres implements the warehouse storage.Store using pgx v5.
// Facts and rejections of a batch are written with COPY inside the batch
// transaction; dimension writers are serialized per natural key with
// transaction-scoped advisory locks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	gddl "salesetl/internal/ddl"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
	pgddl "salesetl/internal/storage/postgres/ddl"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN      string // connection string for pgxpool
	MaxConns int    // pool size; 0 keeps the pgxpool default
}

// Repository is a Postgres-backed implementation of storage.Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	close := func() { pool.Close() }
	return &Repository{pool: pool}, close, nil
}

// mapErr translates undefined_table (42P01) into storage.ErrTableMissing,
// integrity violations (class 23) into storage.ErrConstraint and other
// class 42 errors into storage.ErrInvalidStatement. The server detail is
// surfaced when present.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if pgErr.Code == "42P01" {
		return fmt.Errorf("%w: %v", storage.ErrTableMissing, err)
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "23"):
		err = fmt.Errorf("%w: %w", storage.ErrConstraint, err)
	case strings.HasPrefix(pgErr.Code, "42"):
		err = fmt.Errorf("%w: %w", storage.ErrInvalidStatement, err)
	}
	if pgErr.Detail != "" {
		return fmt.Errorf("%s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
	}
	return err
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}

// Exec implements storage.Store.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if _, err := r.pool.Exec(ctx, sql); err != nil {
		return mapErr(err)
	}
	return nil
}

// Begin opens a read-committed transaction on a pooled connection.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Close is replaced by the adapter's closeFn; it exists for direct users.
func (r *Repository) Close() { r.pool.Close() }

/*
Runs and schema versions
*/

// CreateRunTable provisions pipeline_runs.
func (r *Repository) CreateRunTable(ctx context.Context) error {
	return pgddl.EnsureTable(ctx, r, gddl.RunsTable)
}

func (r *Repository) InsertRun(ctx context.Context, run schema.PipelineRun) (int64, error) {
	meta, err := storage.MarshalJSON(run.Metadata)
	if err != nil {
		return 0, fmt.Errorf("postgres: encode metadata: %w", err)
	}
	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO pipeline_runs (pipeline_name, run_type, status, started_at, metadata)
		 VALUES ($1, $2, $3, $4, $5) RETURNING run_id`,
		run.PipelineName, run.RunType, string(run.Status), run.StartedAt, meta).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert run: %w", mapErr(err))
	}
	return id, nil
}

func (r *Repository) UpdateRun(ctx context.Context, run schema.PipelineRun) error {
	meta, err := storage.MarshalJSON(run.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, completed_at = $2, rows_processed = $3, rows_succeeded = $4,
		 rows_failed = $5, error_message = $6, metadata = $7 WHERE run_id = $8`,
		string(run.Status), run.CompletedAt, run.Processed, run.Succeeded, run.Failed,
		storage.NullString(run.ErrorMessage), meta, run.ID)
	if err != nil {
		return fmt.Errorf("postgres: update run %d: %w", run.ID, mapErr(err))
	}
	return nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]schema.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT run_id, pipeline_name, run_type, status, started_at, completed_at, rows_processed,
		 rows_succeeded, rows_failed, COALESCE(error_message, ''), metadata
		 FROM pipeline_runs ORDER BY started_at DESC, run_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", mapErr(err))
	}
	defer rows.Close()

	var out []schema.PipelineRun
	for rows.Next() {
		var (
			run    schema.PipelineRun
			status string
			meta   []byte
		)
		if err := rows.Scan(&run.ID, &run.PipelineName, &run.RunType, &status, &run.StartedAt, &run.CompletedAt,
			&run.Processed, &run.Succeeded, &run.Failed, &run.ErrorMessage, &meta); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		run.Status = schema.RunStatus(status)
		run.StartedAt = run.StartedAt.UTC()
		if run.CompletedAt != nil {
			c := run.CompletedAt.UTC()
			run.CompletedAt = &c
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &run.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode metadata of run %d: %w", run.ID, err)
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *Repository) LatestSchemaVersion(ctx context.Context, table string) (*schema.SchemaVersion, error) {
	var (
		v    schema.SchemaVersion
		cols []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT table_name, version_number, fingerprint, schema_definition, created_at
		 FROM schema_versions WHERE table_name = $1 ORDER BY version_number DESC LIMIT 1`, table).
		Scan(&v.TableName, &v.Version, &v.Fingerprint, &cols, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest schema version: %w", mapErr(err))
	}
	if err := json.Unmarshal(cols, &v.Columns); err != nil {
		return nil, fmt.Errorf("postgres: decode schema definition: %w", err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func (r *Repository) InsertSchemaVersion(ctx context.Context, v schema.SchemaVersion) error {
	cols, err := json.Marshal(v.Columns)
	if err != nil {
		return fmt.Errorf("postgres: encode schema definition: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO schema_versions (table_name, version_number, fingerprint, schema_definition, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.TableName, v.Version, v.Fingerprint, string(cols), v.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert schema version: %w", mapErr(err))
	}
	return nil
}

/*
Data quality
*/

func (r *Repository) counts(ctx context.Context, query string, args []any, names ...string) (storage.CheckCounts, error) {
	vals := make([]int64, len(names))
	dest := make([]any, len(names))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(dest...); err != nil {
		return storage.CheckCounts{}, fmt.Errorf("postgres: quality query: %w", mapErr(err))
	}
	c := storage.CheckCounts{Details: make(map[string]int64, len(names))}
	for i, n := range names {
		switch n {
		case "failing":
			c.Failing = vals[i]
			continue
		case "total_rows":
			c.Total = vals[i]
		}
		c.Details[n] = vals[i]
	}
	return c, nil
}

func (r *Repository) CompletenessCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	return r.counts(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE transaction_id IS NULL),
		COUNT(*) FILTER (WHERE product_id IS NULL),
		COUNT(*) FILTER (WHERE store_id IS NULL),
		COUNT(*) FILTER (WHERE customer_id IS NULL),
		COUNT(*) FILTER (WHERE transaction_id IS NULL OR product_id IS NULL
			OR store_id IS NULL OR customer_id IS NULL)
		FROM fact_sales WHERE transaction_date >= $1`, []any{w.Since},
		"total_rows", "missing_transaction_id", "missing_product_id", "missing_store_id", "missing_customer_id", "failing")
}

func (r *Repository) ValidityCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	return r.counts(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE quantity <= 0),
		COUNT(*) FILTER (WHERE net_amount < 0),
		COUNT(*) FILTER (WHERE transaction_date > $2),
		COUNT(*) FILTER (WHERE quantity <= 0 OR net_amount < 0 OR transaction_date > $2)
		FROM fact_sales WHERE transaction_date >= $1`, []any{w.Since, w.Now},
		"total_rows", "invalid_quantity", "invalid_amount", "future_dates", "failing")
}

func (r *Repository) ConsistencyCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	return r.counts(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE op),
		COUNT(*) FILTER (WHERE os),
		COUNT(*) FILTER (WHERE oc),
		COUNT(*) FILTER (WHERE op OR os OR oc)
		FROM (SELECT
			f.product_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM dim_products d WHERE d.product_id = f.product_id) AS op,
			f.store_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM dim_stores d WHERE d.store_id = f.store_id) AS os,
			f.customer_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM dim_customers d WHERE d.customer_id = f.customer_id) AS oc
			FROM fact_sales f WHERE f.transaction_date >= $1) o`, []any{w.Since},
		"total_rows", "orphan_products", "orphan_stores", "orphan_customers", "failing")
}

func (r *Repository) AccuracyCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	return r.counts(ctx, `SELECT COUNT(*), COUNT(*) - COUNT(DISTINCT transaction_id), COUNT(*) - COUNT(DISTINCT transaction_id)
		FROM fact_sales WHERE transaction_date >= $1`, []any{w.Since},
		"total_rows", "duplicate_transactions", "failing")
}

func (r *Repository) InsertQualityMetrics(ctx context.Context, ms []schema.DataQualityMetric) error {
	if len(ms) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, m := range ms {
		details, err := storage.MarshalJSON(m.Details)
		if err != nil {
			return fmt.Errorf("postgres: encode details: %w", err)
		}
		b.Queue(`INSERT INTO data_quality_metrics (check_date, check_type, table_name, metric_name, metric_value,
			threshold, status, details, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.CheckDate, m.CheckType, m.TableName, m.MetricName, m.Value, m.Threshold, string(m.Status), details, m.CreatedAt)
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("postgres: insert metrics: %w", mapErr(err))
	}
	return nil
}

func (r *Repository) ListQualityMetrics(ctx context.Context, since time.Time) ([]schema.DataQualityMetric, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT metric_id, check_date, check_type, table_name, metric_name, metric_value::float8, threshold::float8,
		 status, details, created_at FROM data_quality_metrics WHERE check_date >= $1::date
		 ORDER BY check_date DESC, created_at DESC, check_type, metric_id DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list metrics: %w", mapErr(err))
	}
	defer rows.Close()

	var out []schema.DataQualityMetric
	for rows.Next() {
		var (
			m       schema.DataQualityMetric
			status  string
			details []byte
		)
		if err := rows.Scan(&m.ID, &m.CheckDate, &m.CheckType, &m.TableName, &m.MetricName, &m.Value,
			&m.Threshold, &status, &details, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan metric: %w", err)
		}
		m.Status = schema.CheckStatus(status)
		m.CreatedAt = m.CreatedAt.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &m.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode details of metric %d: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
