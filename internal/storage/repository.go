// Package storage contains storage-agnostic contracts and utilities for the
// sales warehouse: the Store/Tx interfaces every backend implements, the
// backend factory registry, DDL bootstrap hooks and the generic batch loader.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"salesetl/internal/schema"
)

// ErrTableMissing is returned by backends when a statement hits a table that
// has not been provisioned yet (postgres SQLSTATE 42P01, sqlite "no such
// table"). Callers match it with errors.Is.
var ErrTableMissing = errors.New("storage: table not provisioned")

// ErrConstraint is returned by backends when a statement violates an
// integrity constraint (postgres SQLSTATE class 23, sqlite SQLITE_CONSTRAINT).
// Repeating the statement cannot succeed.
var ErrConstraint = errors.New("storage: constraint violated")

// ErrInvalidStatement marks SQL the server refused to parse or plan
// (postgres SQLSTATE class 42, sqlite syntax errors).
var ErrInvalidStatement = errors.New("storage: invalid statement")

// IsPermanent reports whether err is a deterministic store failure that a
// retry would hit again.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrConstraint) || errors.Is(err, ErrInvalidStatement)
}

// Config carries backend-agnostic connection settings.
type Config struct {
	Kind string // "postgres" | "sqlite"
	DSN  string
	// MaxConns bounds the connection pool; 0 keeps the backend default.
	MaxConns int
}

// DimensionReader is the read side of the dimension tables.
type DimensionReader interface {
	// CurrentDimension returns the current version of key or nil.
	CurrentDimension(ctx context.Context, table schema.DimensionTable, key string) (*schema.DimensionRecord, error)
	// DimensionAt returns the version of key whose [valid_from, valid_to)
	// interval contains at, or nil.
	DimensionAt(ctx context.Context, table schema.DimensionTable, key string, at time.Time) (*schema.DimensionRecord, error)
	// TimeDimension returns the dim_time row for the calendar date of day or nil.
	TimeDimension(ctx context.Context, day time.Time) (*schema.TimeDimensionRecord, error)
}

// DimensionWriter mutates dimension tables inside a transaction.
type DimensionWriter interface {
	DimensionReader
	// LockDimensionKey serializes concurrent writers of the same natural key
	// until the enclosing transaction ends.
	LockDimensionKey(ctx context.Context, table schema.DimensionTable, key string) error
	// CloseDimension marks version id non-current with valid_to = at.
	CloseDimension(ctx context.Context, table schema.DimensionTable, id int64, at time.Time) error
	// InsertDimension appends a version and returns its surrogate id.
	InsertDimension(ctx context.Context, table schema.DimensionTable, rec schema.DimensionRecord) (int64, error)
	// InsertTimeDimension inserts rec unless its date exists and returns the
	// id of the row for that date.
	InsertTimeDimension(ctx context.Context, rec schema.TimeDimensionRecord) (int64, error)
}

// Tx is one atomic unit of warehouse writes. Every batch of a run executes in
// exactly one Tx; Rollback after Commit is a no-op.
type Tx interface {
	DimensionWriter
	// ExistingTransactionIDs returns the subset of ids already in fact_sales.
	ExistingTransactionIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	InsertRejections(ctx context.Context, runID int64, recs []schema.RejectionRecord) (int64, error)
	InsertFacts(ctx context.Context, facts []schema.FactSalesRecord) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RunStore persists pipeline run bookkeeping.
type RunStore interface {
	// CreateRunTable provisions pipeline_runs if it is missing.
	CreateRunTable(ctx context.Context) error
	InsertRun(ctx context.Context, run schema.PipelineRun) (int64, error)
	// UpdateRun writes the terminal state of run (matched by run.ID).
	UpdateRun(ctx context.Context, run schema.PipelineRun) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]schema.PipelineRun, error)
	// LatestSchemaVersion returns the newest recorded layout of table or nil.
	LatestSchemaVersion(ctx context.Context, table string) (*schema.SchemaVersion, error)
	InsertSchemaVersion(ctx context.Context, v schema.SchemaVersion) error
}

// Window bounds a quality query over fact_sales.transaction_date: rows with
// Since <= transaction_date are in scope; Now is the reference for "future".
type Window struct {
	Since time.Time
	Now   time.Time
}

// CheckCounts are the raw numbers behind one quality score. Failing counts
// rows that fail at least one condition of the check; Details holds the
// per-condition counts plus total_rows.
type CheckCounts struct {
	Total   int64
	Failing int64
	Details map[string]int64
}

// QualityStore answers the data-quality queries and persists their results.
type QualityStore interface {
	CompletenessCounts(ctx context.Context, w Window) (CheckCounts, error)
	ValidityCounts(ctx context.Context, w Window) (CheckCounts, error)
	ConsistencyCounts(ctx context.Context, w Window) (CheckCounts, error)
	AccuracyCounts(ctx context.Context, w Window) (CheckCounts, error)
	InsertQualityMetrics(ctx context.Context, ms []schema.DataQualityMetric) error
	// ListQualityMetrics returns metrics with check_date >= since, newest
	// check_date first.
	ListQualityMetrics(ctx context.Context, since time.Time) ([]schema.DataQualityMetric, error)
}

// Store is the storage-agnostic handle to one warehouse.
type Store interface {
	RunStore
	QualityStore
	// Begin opens an atomic unit. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (Tx, error)
	// Exec runs a raw statement (typically DDL).
	Exec(ctx context.Context, sql string) error
	Close()
}

// Factory constructs a Store for a given Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init().
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Store of cfg.Kind. Factory errors are returned unwrapped.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WithTx runs fn inside a Tx, committing on success and rolling back on any
// error or panic. The connection is released on every exit path.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
