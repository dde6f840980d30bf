package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// inChunk bounds the number of bound parameters per IN (...) query.
const inChunk = 500

// sqliteTx implements storage.Tx on a database/sql transaction.
type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

var _ storage.Tx = (*sqliteTx)(nil)

func (t *sqliteTx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlite: rollback: %w", err)
	}
	return nil
}

// LockDimensionKey is a no-op: the IMMEDIATE transaction already holds the
// database write lock.
func (t *sqliteTx) LockDimensionKey(context.Context, schema.DimensionTable, string) error {
	return nil
}

func dimSelect(d schema.DimensionTable) string {
	cols := []string{d.IDColumn, d.KeyColumn}
	for _, a := range d.Attributes {
		cols = append(cols, "CAST("+a+" AS TEXT)")
	}
	cols = append(cols, "is_current", "valid_from", "valid_to")
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + d.Name
}

func scanDimension(d schema.DimensionTable, row *sql.Row) (*schema.DimensionRecord, error) {
	var (
		rec       = schema.DimensionRecord{Attributes: make(map[string]string, len(d.Attributes))}
		attrs     = make([]sql.NullString, len(d.Attributes))
		current   int64
		validFrom string
		validTo   sql.NullString
	)
	dest := []any{&rec.ID, &rec.NaturalKey}
	for i := range attrs {
		dest = append(dest, &attrs[i])
	}
	dest = append(dest, &current, &validFrom, &validTo)

	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	for i, a := range d.Attributes {
		rec.Attributes[a] = attrs[i].String
	}
	rec.IsCurrent = current != 0
	if rec.ValidFrom, err = parseTS(validFrom); err != nil {
		return nil, err
	}
	if rec.ValidTo, err = parseNullTS(validTo); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *sqliteTx) CurrentDimension(ctx context.Context, d schema.DimensionTable, key string) (*schema.DimensionRecord, error) {
	q := dimSelect(d) + " WHERE " + d.KeyColumn + " = ? AND is_current = 1 LIMIT 1"
	rec, err := scanDimension(d, t.tx.QueryRowContext(ctx, q, key))
	if err != nil {
		return nil, fmt.Errorf("sqlite: current %s %q: %w", d.Name, key, err)
	}
	return rec, nil
}

func (t *sqliteTx) DimensionAt(ctx context.Context, d schema.DimensionTable, key string, at time.Time) (*schema.DimensionRecord, error) {
	q := dimSelect(d) + " WHERE " + d.KeyColumn + " = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)" +
		" ORDER BY valid_from DESC LIMIT 1"
	rec, err := scanDimension(d, t.tx.QueryRowContext(ctx, q, key, ts(at), ts(at)))
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s %q at %s: %w", d.Name, key, ts(at), err)
	}
	return rec, nil
}

func (t *sqliteTx) CloseDimension(ctx context.Context, d schema.DimensionTable, id int64, at time.Time) error {
	q := "UPDATE " + d.Name + " SET is_current = 0, valid_to = ? WHERE " + d.IDColumn + " = ? AND is_current = 1"
	if _, err := t.tx.ExecContext(ctx, q, ts(at), id); err != nil {
		return fmt.Errorf("sqlite: close %s %d: %w", d.Name, id, mapErr(err))
	}
	return nil
}

func (t *sqliteTx) InsertDimension(ctx context.Context, d schema.DimensionTable, rec schema.DimensionRecord) (int64, error) {
	cols := append([]string{d.KeyColumn}, d.Attributes...)
	cols = append(cols, "is_current", "valid_from", "valid_to")
	args := []any{rec.NaturalKey}
	for _, a := range d.Attributes {
		args = append(args, storage.NullString(rec.Attributes[a]))
	}
	current := 0
	if rec.IsCurrent {
		current = 1
	}
	var validTo any
	if rec.ValidTo != nil {
		validTo = ts(*rec.ValidTo)
	}
	args = append(args, current, ts(rec.ValidFrom), validTo)

	q := "INSERT INTO " + d.Name + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert %s %q: %w", d.Name, rec.NaturalKey, mapErr(err))
	}
	return res.LastInsertId()
}

const timeColumns = `time_id, "date", year, quarter, month, month_name, week, day, day_name,
	is_weekend, is_holiday, season, fiscal_year, fiscal_quarter`

func (t *sqliteTx) TimeDimension(ctx context.Context, dayT time.Time) (*schema.TimeDimensionRecord, error) {
	var (
		rec              schema.TimeDimensionRecord
		date             string
		weekend, holiday int64
	)
	err := t.tx.QueryRowContext(ctx, `SELECT `+timeColumns+` FROM dim_time WHERE "date" = ?`, day(dayT)).Scan(
		&rec.ID, &date, &rec.Year, &rec.Quarter, &rec.Month, &rec.MonthName, &rec.Week, &rec.Day,
		&rec.DayName, &weekend, &holiday, &rec.Season, &rec.FiscalYear, &rec.FiscalQuarter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: dim_time %s: %w", day(dayT), mapErr(err))
	}
	if rec.Date, err = parseTS(date); err != nil {
		return nil, err
	}
	rec.IsWeekend = weekend != 0
	rec.IsHoliday = holiday != 0
	return &rec, nil
}

func (t *sqliteTx) InsertTimeDimension(ctx context.Context, rec schema.TimeDimensionRecord) (int64, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO dim_time ("date", year, quarter, month, month_name, week, day, day_name,
		 is_weekend, is_holiday, season, fiscal_year, fiscal_quarter)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT ("date") DO NOTHING`,
		day(rec.Date), rec.Year, rec.Quarter, rec.Month, rec.MonthName, rec.Week, rec.Day, rec.DayName,
		boolInt(rec.IsWeekend), boolInt(rec.IsHoliday), rec.Season, rec.FiscalYear, rec.FiscalQuarter)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert dim_time %s: %w", day(rec.Date), mapErr(err))
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, `SELECT time_id FROM dim_time WHERE "date" = ?`, day(rec.Date)).Scan(&id); err != nil {
		return 0, fmt.Errorf("sqlite: dim_time id %s: %w", day(rec.Date), mapErr(err))
	}
	return id, nil
}

func (t *sqliteTx) ExistingTransactionIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for start := 0; start < len(ids); start += inChunk {
		end := start + inChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := t.tx.QueryContext(ctx,
			"SELECT transaction_id FROM fact_sales WHERE transaction_id IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: existing transaction ids: %w", mapErr(err))
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: scan transaction id: %w", err)
			}
			out[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("sqlite: existing transaction ids: %w", err)
		}
	}
	return out, nil
}

// insertRows runs one prepared INSERT per row of vals.
func (t *sqliteTx) insertRows(ctx context.Context, table string, columns []string, vals [][]any) (int64, error) {
	if len(vals) == 0 {
		return 0, nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		"INSERT INTO "+table+" ("+strings.Join(columns, ", ")+") VALUES ("+placeholders(len(columns))+")")
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert %s: %w", table, mapErr(err))
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range vals {
		if len(row) != len(columns) {
			return inserted, fmt.Errorf("sqlite: insert %s: row length %d != columns length %d", table, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("sqlite: insert %s: %w", table, mapErr(err))
		}
		inserted++
	}
	return inserted, nil
}

func (t *sqliteTx) InsertRejections(ctx context.Context, runID int64, recs []schema.RejectionRecord) (int64, error) {
	vals := make([][]any, len(recs))
	for i, r := range recs {
		vals[i] = storage.RejectionValues(runID, r)
	}
	return t.insertRows(ctx, "rejected_sales", storage.RejectionColumns, vals)
}

func (t *sqliteTx) InsertFacts(ctx context.Context, facts []schema.FactSalesRecord) (int64, error) {
	vals := make([][]any, len(facts))
	for i, f := range facts {
		vals[i] = storage.FactValues(f, tsArg)
	}
	return t.insertRows(ctx, "fact_sales", storage.FactColumns, vals)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
