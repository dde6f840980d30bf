package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/zeebo/xxh3"

	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// pgTx implements storage.Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: commit: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// advisoryKey folds table and natural key into the int64 space of
// pg_advisory_xact_lock.
func advisoryKey(table, key string) int64 {
	return int64(xxh3.HashString(table + ":" + key))
}

// LockDimensionKey takes a transaction-scoped advisory lock on (table, key).
func (t *pgTx) LockDimensionKey(ctx context.Context, d schema.DimensionTable, key string) error {
	if _, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(d.Name, key)); err != nil {
		return fmt.Errorf("postgres: lock %s %q: %w", d.Name, key, mapErr(err))
	}
	return nil
}

func dimSelect(d schema.DimensionTable) string {
	cols := []string{pgIdent(d.IDColumn), pgIdent(d.KeyColumn)}
	for _, a := range d.Attributes {
		cols = append(cols, pgIdent(a)+"::text")
	}
	cols = append(cols, "is_current", "valid_from", "valid_to")
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + pgIdent(d.Name)
}

func scanDimension(d schema.DimensionTable, row pgx.Row) (*schema.DimensionRecord, error) {
	rec := schema.DimensionRecord{Attributes: make(map[string]string, len(d.Attributes))}
	attrs := make([]pgtype.Text, len(d.Attributes))
	dest := []any{&rec.ID, &rec.NaturalKey}
	for i := range attrs {
		dest = append(dest, &attrs[i])
	}
	dest = append(dest, &rec.IsCurrent, &rec.ValidFrom, &rec.ValidTo)

	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	for i, a := range d.Attributes {
		rec.Attributes[a] = attrs[i].String
	}
	rec.ValidFrom = rec.ValidFrom.UTC()
	if rec.ValidTo != nil {
		to := rec.ValidTo.UTC()
		rec.ValidTo = &to
	}
	return &rec, nil
}

func (t *pgTx) CurrentDimension(ctx context.Context, d schema.DimensionTable, key string) (*schema.DimensionRecord, error) {
	q := dimSelect(d) + " WHERE " + pgIdent(d.KeyColumn) + " = $1 AND is_current LIMIT 1"
	rec, err := scanDimension(d, t.tx.QueryRow(ctx, q, key))
	if err != nil {
		return nil, fmt.Errorf("postgres: current %s %q: %w", d.Name, key, err)
	}
	return rec, nil
}

func (t *pgTx) DimensionAt(ctx context.Context, d schema.DimensionTable, key string, at time.Time) (*schema.DimensionRecord, error) {
	q := dimSelect(d) + " WHERE " + pgIdent(d.KeyColumn) + " = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)" +
		" ORDER BY valid_from DESC LIMIT 1"
	rec, err := scanDimension(d, t.tx.QueryRow(ctx, q, key, at))
	if err != nil {
		return nil, fmt.Errorf("postgres: %s %q at %s: %w", d.Name, key, at.Format(time.RFC3339), err)
	}
	return rec, nil
}

func (t *pgTx) CloseDimension(ctx context.Context, d schema.DimensionTable, id int64, at time.Time) error {
	q := "UPDATE " + pgIdent(d.Name) + " SET is_current = false, valid_to = $1 WHERE " +
		pgIdent(d.IDColumn) + " = $2 AND is_current"
	if _, err := t.tx.Exec(ctx, q, at, id); err != nil {
		return fmt.Errorf("postgres: close %s %d: %w", d.Name, id, mapErr(err))
	}
	return nil
}

// InsertDimension appends a version. Numeric attributes travel as text and
// are cast server side so the stored value keeps the column scale.
func (t *pgTx) InsertDimension(ctx context.Context, d schema.DimensionTable, rec schema.DimensionRecord) (int64, error) {
	cols := []string{d.KeyColumn}
	ph := []string{"$1"}
	args := []any{rec.NaturalKey}
	for _, a := range d.Attributes {
		args = append(args, storage.NullString(rec.Attributes[a]))
		p := fmt.Sprintf("$%d", len(args))
		if d.IsNumeric(a) {
			p = "CAST(" + p + "::text AS NUMERIC)"
		}
		cols = append(cols, a)
		ph = append(ph, p)
	}
	cols = append(cols, "is_current", "valid_from", "valid_to")
	args = append(args, rec.IsCurrent, rec.ValidFrom, rec.ValidTo)
	n := len(args)
	ph = append(ph, fmt.Sprintf("$%d", n-2), fmt.Sprintf("$%d", n-1), fmt.Sprintf("$%d", n))

	q := "INSERT INTO " + pgIdent(d.Name) + " (" + strings.Join(mapIdent(cols), ", ") + ") VALUES (" +
		strings.Join(ph, ", ") + ") RETURNING " + pgIdent(d.IDColumn)
	var id int64
	if err := t.tx.QueryRow(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: insert %s %q: %w", d.Name, rec.NaturalKey, mapErr(err))
	}
	return id, nil
}

const timeColumns = `time_id, "date", year, quarter, month, month_name, week, day, day_name,
	is_weekend, is_holiday, season, fiscal_year, fiscal_quarter`

func (t *pgTx) TimeDimension(ctx context.Context, day time.Time) (*schema.TimeDimensionRecord, error) {
	var rec schema.TimeDimensionRecord
	err := t.tx.QueryRow(ctx, `SELECT `+timeColumns+` FROM dim_time WHERE "date" = $1::date`, day).Scan(
		&rec.ID, &rec.Date, &rec.Year, &rec.Quarter, &rec.Month, &rec.MonthName, &rec.Week, &rec.Day,
		&rec.DayName, &rec.IsWeekend, &rec.IsHoliday, &rec.Season, &rec.FiscalYear, &rec.FiscalQuarter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: dim_time %s: %w", day.Format(schema.DateLayout), mapErr(err))
	}
	return &rec, nil
}

func (t *pgTx) InsertTimeDimension(ctx context.Context, rec schema.TimeDimensionRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO dim_time ("date", year, quarter, month, month_name, week, day, day_name,
		 is_weekend, is_holiday, season, fiscal_year, fiscal_quarter)
		 VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT ("date") DO NOTHING RETURNING time_id`,
		rec.Date, rec.Year, rec.Quarter, rec.Month, rec.MonthName, rec.Week, rec.Day, rec.DayName,
		rec.IsWeekend, rec.IsHoliday, rec.Season, rec.FiscalYear, rec.FiscalQuarter).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = t.tx.QueryRow(ctx, `SELECT time_id FROM dim_time WHERE "date" = $1::date`, rec.Date).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: insert dim_time %s: %w", rec.Date.Format(schema.DateLayout), mapErr(err))
	}
	return id, nil
}

func (t *pgTx) ExistingTransactionIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, "SELECT transaction_id FROM fact_sales WHERE transaction_id = ANY($1::bigint[])", ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: existing transaction ids: %w", mapErr(err))
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: existing transaction ids: %w", mapErr(err))
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

// copyRows bulk-loads rows into table inside the transaction.
func (t *pgTx) copyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, mapErr(err))
	}
	return n, nil
}

func (t *pgTx) InsertRejections(ctx context.Context, runID int64, recs []schema.RejectionRecord) (int64, error) {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = storage.RejectionValues(runID, r)
	}
	return t.copyRows(ctx, "rejected_sales", storage.RejectionColumns, rows)
}

func (t *pgTx) InsertFacts(ctx context.Context, facts []schema.FactSalesRecord) (int64, error) {
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = storage.FactValues(f, func(ts time.Time) any { return ts })
	}
	return t.copyRows(ctx, "fact_sales", storage.FactColumns, rows)
}
