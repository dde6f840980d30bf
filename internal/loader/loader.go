// Package loader writes one batch of transformed sales rows into the star
// schema: rejections, store-level duplicate detection, dimension resolution
// and fact inserts, all inside the caller's transaction.
package loader

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"salesetl/internal/config"
	"salesetl/internal/dimension"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// DuplicateReason is the rejection reason prefix for transaction ids that are
// already loaded.
const DuplicateReason = "duplicate transaction_id in store: "

// RepeatReason is the rejection reason prefix for a transaction id that
// occurs more than once in the same batch. Only the first row is loaded.
const RepeatReason = "duplicate transaction_id in batch: "

// Batch is one unit of work: the valid rows plus the rows rejected upstream
// while the batch was filling.
type Batch struct {
	Rows       []schema.TransformedRow
	Rejections []schema.RejectionRecord
}

// Result are the counts of one loaded batch. Rejected includes Duplicates
// and Repeats.
type Result struct {
	Inserted   int64
	Rejected   int64
	Duplicates int64
	Repeats    int64
	// Versions counts dimension writes by "<table>:<outcome>".
	Versions map[string]int64
	// Reasons counts rejections by reason.
	Reasons map[string]int64
}

// Loader is safe for concurrent use; per-batch state lives in LoadBatch.
type Loader struct {
	dims   *dimension.Manager
	lookup bool
}

// New returns a Loader resolving dimensions per mode (config.DimensionModeUpsert
// or config.DimensionModeLookup).
func New(dims *dimension.Manager, mode string) *Loader {
	return &Loader{dims: dims, lookup: mode == config.DimensionModeLookup}
}

// LoadBatch writes b inside tx. Any store error is returned as is; the caller
// rolls tx back so nothing of the batch persists.
func (l *Loader) LoadBatch(ctx context.Context, tx storage.Tx, runID int64, b Batch) (Result, error) {
	res := Result{Versions: map[string]int64{}, Reasons: map[string]int64{}}

	if _, err := tx.InsertRejections(ctx, runID, b.Rejections); err != nil {
		return res, fmt.Errorf("insert rejections: %w", err)
	}
	res.Rejected += int64(len(b.Rejections))
	for _, r := range b.Rejections {
		res.Reasons[r.Reason]++
	}

	rows, repeats := dropRepeats(b.Rows)
	if len(repeats) > 0 {
		if _, err := tx.InsertRejections(ctx, runID, repeats); err != nil {
			return res, fmt.Errorf("insert repeat rejections: %w", err)
		}
		res.Repeats = int64(len(repeats))
		res.Rejected += res.Repeats
		res.Reasons[strings.TrimSuffix(RepeatReason, ": ")] += res.Repeats
	}

	rows, dups, err := dropLoaded(ctx, tx, rows)
	if err != nil {
		return res, err
	}
	if len(dups) > 0 {
		if _, err := tx.InsertRejections(ctx, runID, dups); err != nil {
			return res, fmt.Errorf("insert duplicate rejections: %w", err)
		}
		res.Duplicates = int64(len(dups))
		res.Rejected += res.Duplicates
		res.Reasons[strings.TrimSuffix(DuplicateReason, ": ")] += res.Duplicates
	}

	r := l.newResolver(tx, &res)
	facts := make([]schema.FactSalesRecord, 0, len(rows))
	for _, row := range rows {
		f, err := r.fact(ctx, row)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", row.Line, err)
		}
		f.RunID = runID
		facts = append(facts, f)
	}

	n, err := tx.InsertFacts(ctx, facts)
	if err != nil {
		return res, fmt.Errorf("insert facts: %w", err)
	}
	res.Inserted = n
	log.Printf("loader: run=%d facts=%d rejected=%d duplicates=%d repeats=%d", runID, n, res.Rejected, res.Duplicates, res.Repeats)
	return res, nil
}

// dropRepeats keeps the first row of every transaction id and rejects the
// rest.
func dropRepeats(rows []schema.TransformedRow) ([]schema.TransformedRow, []schema.RejectionRecord) {
	seen := make(map[int64]struct{}, len(rows))
	keep := rows[:0:0]
	var repeats []schema.RejectionRecord
	for _, r := range rows {
		if _, ok := seen[r.TransactionID]; ok {
			repeats = append(repeats, schema.Reject(r.Line, r.Source, RepeatReason+strconv.FormatInt(r.TransactionID, 10)))
			continue
		}
		seen[r.TransactionID] = struct{}{}
		keep = append(keep, r)
	}
	return keep, repeats
}

// dropLoaded splits rows into those not yet in fact_sales and rejections for
// the ones that are.
func dropLoaded(ctx context.Context, tx storage.Tx, rows []schema.TransformedRow) ([]schema.TransformedRow, []schema.RejectionRecord, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.TransactionID
	}
	existing, err := tx.ExistingTransactionIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("check loaded transaction ids: %w", err)
	}
	if len(existing) == 0 {
		return rows, nil, nil
	}
	keep := make([]schema.TransformedRow, 0, len(rows)-len(existing))
	var dups []schema.RejectionRecord
	for _, r := range rows {
		if _, ok := existing[r.TransactionID]; ok {
			dups = append(dups, schema.Reject(r.Line, r.Source, DuplicateReason+strconv.FormatInt(r.TransactionID, 10)))
			continue
		}
		keep = append(keep, r)
	}
	return keep, dups, nil
}

// Amounts computes the monetary fact columns from cost, items and discount
// percentage.
func Amounts(totalCost float64, items int64, discountPct float64) (unitPrice, discount, net float64) {
	unitPrice = dimension.UnitPrice(totalCost, items)
	discount = totalCost * discountPct / 100
	return unitPrice, discount, totalCost - discount
}
