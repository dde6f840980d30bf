package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"salesetl/internal/schema"
)

// RejectionColumns is the insert column order of rejected_sales.
var RejectionColumns = append(append([]string{"run_id", "line_number"}, schema.CanonicalFields...),
	"rejection_reason", "row_hash", "extra")

// RejectionValues flattens rec in RejectionColumns order. Canonical values are
// stored verbatim; absent fields become NULL. Unknown columns are kept as a
// JSON object in extra.
func RejectionValues(runID int64, rec schema.RejectionRecord) []any {
	vals := make([]any, 0, len(RejectionColumns))
	vals = append(vals, nullID(runID), rec.Line)
	for _, f := range schema.CanonicalFields {
		if v, ok := rec.Fields[f]; ok {
			vals = append(vals, v)
		} else {
			vals = append(vals, nil)
		}
	}
	var extra any
	if ex := rec.Fields.Extra(); len(ex) > 0 {
		if b, err := json.Marshal(ex); err == nil {
			extra = string(b)
		}
	}
	return append(vals, rec.Reason, RowHash(rec.Fields), extra)
}

// RowHash fingerprints the canonical values of a row (xxh3, hex). Identical
// rejected lines hash identically across runs.
func RowHash(row schema.CanonicalRow) string {
	var b strings.Builder
	for i, f := range schema.CanonicalFields {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(row[f])
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}

// FactColumns is the insert column order of fact_sales.
var FactColumns = []string{
	"transaction_id", "transaction_date", "product_id", "store_id", "customer_id", "time_id",
	"quantity", "unit_price", "total_amount", "discount_amount", "net_amount",
	"payment_method", "channel", "run_id",
}

// FactValues flattens f in FactColumns order. ts encodes timestamps for the
// backend; nil keys and empty optional text become NULL.
func FactValues(f schema.FactSalesRecord, ts func(time.Time) any) []any {
	return []any{
		f.TransactionID,
		ts(f.TransactionDate),
		nullable(f.ProductID),
		nullable(f.StoreID),
		nullable(f.CustomerID),
		nullable(f.TimeID),
		f.Quantity,
		f.UnitPrice,
		f.TotalAmount,
		f.DiscountAmount,
		f.NetAmount,
		NullString(f.PaymentMethod),
		NullString(f.Channel),
		nullID(f.RunID),
	}
}

// NullString maps "" to NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullable(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

// MarshalJSON encodes v for a json column; nil maps become NULL.
func MarshalJSON(v any) (any, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if m == nil {
			return nil, nil
		}
	case map[string]int64:
		if m == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
