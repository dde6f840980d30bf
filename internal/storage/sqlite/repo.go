// Package sqlite implements a SQLite-backed storage.Store using database/sql
// and modernc.org/sqlite. SQLite has no bulk-load API like Postgres COPY, so
// batches are written with prepared INSERTs inside one IMMEDIATE transaction.
// Timestamps are stored as "2006-01-02 15:04:05" UTC text so that lexical and
// chronological order agree.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	gddl "salesetl/internal/ddl"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
	sqliteddl "salesetl/internal/storage/sqlite/ddl"
)

// Repository is a SQLite-backed implementation of storage.Store.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a SQLite database and returns a Repository plus a
// Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.connString())
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; a single connection also keeps ":memory:"
	// databases shared between calls.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	closeFn := func() { db.Close() }
	return newFromDB(db), closeFn, nil
}

func newFromDB(db *sql.DB) *Repository { return &Repository{db: db} }

// mapErr translates driver errors into storage sentinels. SQLite reports a
// missing table and syntax errors only through the message text;
// constraint violations carry SQLITE_CONSTRAINT in the primary result code.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", storage.ErrTableMissing, err)
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch {
		case se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", storage.ErrConstraint, err)
		case strings.Contains(se.Error(), "syntax error"):
			return fmt.Errorf("%w: %w", storage.ErrInvalidStatement, err)
		}
	}
	return err
}

func ts(t time.Time) string { return t.UTC().Format(schema.TimestampLayout) }

func tsArg(t time.Time) any { return ts(t) }

func day(t time.Time) string { return t.UTC().Format(schema.DateLayout) }

// parseTS accepts the canonical layout plus the RFC 3339 forms the driver may
// hand back.
func parseTS(s string) (time.Time, error) {
	for _, layout := range []string{schema.TimestampLayout, time.RFC3339Nano, schema.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("sqlite: unparseable timestamp %q", s)
}

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Exec executes an arbitrary SQL statement (typically DDL).
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", mapErr(err))
	}
	return nil
}

// Begin opens an IMMEDIATE transaction (see Config).
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// Close is replaced by the adapter's closeFn; it exists for direct users.
func (r *Repository) Close() { r.db.Close() }

/*
Runs and schema versions
*/

// CreateRunTable provisions pipeline_runs.
func (r *Repository) CreateRunTable(ctx context.Context) error {
	return sqliteddl.EnsureTable(ctx, r, gddl.RunsTable)
}

func (r *Repository) InsertRun(ctx context.Context, run schema.PipelineRun) (int64, error) {
	meta, err := storage.MarshalJSON(run.Metadata)
	if err != nil {
		return 0, fmt.Errorf("sqlite: encode metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (pipeline_name, run_type, status, started_at, metadata) VALUES (?, ?, ?, ?, ?)`,
		run.PipelineName, run.RunType, string(run.Status), ts(run.StartedAt), meta)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert run: %w", mapErr(err))
	}
	return res.LastInsertId()
}

func (r *Repository) UpdateRun(ctx context.Context, run schema.PipelineRun) error {
	meta, err := storage.MarshalJSON(run.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: encode metadata: %w", err)
	}
	var completed any
	if run.CompletedAt != nil {
		completed = ts(*run.CompletedAt)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ?, rows_processed = ?, rows_succeeded = ?,
		 rows_failed = ?, error_message = ?, metadata = ? WHERE run_id = ?`,
		string(run.Status), completed, run.Processed, run.Succeeded, run.Failed,
		storage.NullString(run.ErrorMessage), meta, run.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update run %d: %w", run.ID, mapErr(err))
	}
	return nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]schema.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, pipeline_name, run_type, status, started_at, completed_at, rows_processed,
		 rows_succeeded, rows_failed, error_message, metadata
		 FROM pipeline_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", mapErr(err))
	}
	defer rows.Close()

	var out []schema.PipelineRun
	for rows.Next() {
		var (
			run              schema.PipelineRun
			status, started  string
			completed        sql.NullString
			errMsg, metaJSON sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.PipelineName, &run.RunType, &status, &started, &completed,
			&run.Processed, &run.Succeeded, &run.Failed, &errMsg, &metaJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		run.Status = schema.RunStatus(status)
		if run.StartedAt, err = parseTS(started); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseNullTS(completed); err != nil {
			return nil, err
		}
		run.ErrorMessage = errMsg.String
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &run.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: decode metadata of run %d: %w", run.ID, err)
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *Repository) LatestSchemaVersion(ctx context.Context, table string) (*schema.SchemaVersion, error) {
	var (
		v                schema.SchemaVersion
		colsJSON, create string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT table_name, version_number, fingerprint, schema_definition, created_at
		 FROM schema_versions WHERE table_name = ? ORDER BY version_number DESC LIMIT 1`, table).
		Scan(&v.TableName, &v.Version, &v.Fingerprint, &colsJSON, &create)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest schema version: %w", mapErr(err))
	}
	if err := json.Unmarshal([]byte(colsJSON), &v.Columns); err != nil {
		return nil, fmt.Errorf("sqlite: decode schema definition: %w", err)
	}
	if v.CreatedAt, err = parseTS(create); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) InsertSchemaVersion(ctx context.Context, v schema.SchemaVersion) error {
	cols, err := json.Marshal(v.Columns)
	if err != nil {
		return fmt.Errorf("sqlite: encode schema definition: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO schema_versions (table_name, version_number, fingerprint, schema_definition, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.TableName, v.Version, v.Fingerprint, string(cols), ts(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert schema version: %w", mapErr(err))
	}
	return nil
}

/*
Data quality
*/

func (r *Repository) counts(ctx context.Context, query string, args []any, names ...string) (map[string]int64, error) {
	vals := make([]int64, len(names))
	dest := make([]any, len(names))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("sqlite: quality query: %w", mapErr(err))
	}
	out := make(map[string]int64, len(names))
	for i, n := range names {
		out[n] = vals[i]
	}
	return out, nil
}

func (r *Repository) CompletenessCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	m, err := r.counts(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN transaction_id IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN product_id IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN store_id IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN customer_id IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN transaction_id IS NULL OR product_id IS NULL
			OR store_id IS NULL OR customer_id IS NULL THEN 1 ELSE 0 END), 0)
		FROM fact_sales WHERE transaction_date >= ?`, []any{ts(w.Since)},
		"total_rows", "missing_transaction_id", "missing_product_id", "missing_store_id", "missing_customer_id", "failing")
	return split(m, err)
}

func (r *Repository) ValidityCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	now := ts(w.Now)
	m, err := r.counts(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN quantity <= 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN net_amount < 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN transaction_date > ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN quantity <= 0 OR net_amount < 0 OR transaction_date > ? THEN 1 ELSE 0 END), 0)
		FROM fact_sales WHERE transaction_date >= ?`, []any{now, now, ts(w.Since)},
		"total_rows", "invalid_quantity", "invalid_amount", "future_dates", "failing")
	return split(m, err)
}

func (r *Repository) ConsistencyCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	m, err := r.counts(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN op THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN os THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN oc THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN op OR os OR oc THEN 1 ELSE 0 END), 0)
		FROM (SELECT
			f.product_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM dim_products d WHERE d.product_id = f.product_id) AS op,
			f.store_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM dim_stores d WHERE d.store_id = f.store_id) AS os,
			f.customer_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM dim_customers d WHERE d.customer_id = f.customer_id) AS oc
			FROM fact_sales f WHERE f.transaction_date >= ?)`, []any{ts(w.Since)},
		"total_rows", "orphan_products", "orphan_stores", "orphan_customers", "failing")
	return split(m, err)
}

func (r *Repository) AccuracyCounts(ctx context.Context, w storage.Window) (storage.CheckCounts, error) {
	m, err := r.counts(ctx, `SELECT COUNT(*), COUNT(*) - COUNT(DISTINCT transaction_id), COUNT(*) - COUNT(DISTINCT transaction_id)
		FROM fact_sales WHERE transaction_date >= ?`, []any{ts(w.Since)},
		"total_rows", "duplicate_transactions", "failing")
	return split(m, err)
}

// split moves total_rows/failing out of the per-condition details.
func split(m map[string]int64, err error) (storage.CheckCounts, error) {
	if err != nil {
		return storage.CheckCounts{}, err
	}
	c := storage.CheckCounts{Total: m["total_rows"], Failing: m["failing"]}
	delete(m, "failing")
	c.Details = m
	return c, nil
}

func (r *Repository) InsertQualityMetrics(ctx context.Context, ms []schema.DataQualityMetric) error {
	if len(ms) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO data_quality_metrics (check_date, check_type, table_name, metric_name, metric_value,
		 threshold, status, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare metric insert: %w", mapErr(err))
	}
	defer stmt.Close()

	for _, m := range ms {
		details, err := storage.MarshalJSON(m.Details)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: encode details: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, day(m.CheckDate), m.CheckType, m.TableName, m.MetricName,
			m.Value, m.Threshold, string(m.Status), details, ts(m.CreatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: insert metric %s: %w", m.CheckType, mapErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (r *Repository) ListQualityMetrics(ctx context.Context, since time.Time) ([]schema.DataQualityMetric, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT metric_id, check_date, check_type, table_name, metric_name, metric_value, threshold,
		 status, details, created_at FROM data_quality_metrics WHERE check_date >= ?
		 ORDER BY check_date DESC, created_at DESC, check_type, metric_id DESC`, day(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list metrics: %w", mapErr(err))
	}
	defer rows.Close()

	var out []schema.DataQualityMetric
	for rows.Next() {
		var (
			m                       schema.DataQualityMetric
			checkDate, made, status string
			details                 sql.NullString
		)
		if err := rows.Scan(&m.ID, &checkDate, &m.CheckType, &m.TableName, &m.MetricName, &m.Value,
			&m.Threshold, &status, &details, &made); err != nil {
			return nil, fmt.Errorf("sqlite: scan metric: %w", err)
		}
		m.Status = schema.CheckStatus(status)
		if m.CheckDate, err = parseTS(checkDate); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTS(made); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &m.Details); err != nil {
				return nil, fmt.Errorf("sqlite: decode details of metric %d: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
