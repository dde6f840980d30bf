package transformer

import (
	"errors"
	"strconv"
	"strings"

	"salesetl/internal/schema"
)

// Transform converts a validated canonical row into typed warehouse values.
// The returned error text is the rejection reason for the row.
func Transform(line int, row schema.CanonicalRow) (schema.TransformedRow, error) {
	out := schema.TransformedRow{Line: line, Source: row}

	id, err := strconv.ParseInt(row.Get(schema.FieldTransactionID), 10, 64)
	if err != nil {
		return out, errors.New("invalid transaction_id format")
	}
	out.TransactionID = id

	ts, err := ParseTransactionDate(row.Get(schema.FieldTransactionDate))
	if err != nil {
		return out, err
	}
	out.TransactionDate = ts

	out.CustomerName = row.Get(schema.FieldCustomerName)
	out.Product = row.Get(schema.FieldProduct)
	out.City = row.Get(schema.FieldCity)
	out.PaymentMethod = row.Get(schema.FieldPaymentMethod)
	out.Season = row.Get(schema.FieldSeason)
	out.Channel = strings.ToUpper(row.Get(schema.FieldChannel))

	items, ok := parseLooseNumber(row[schema.FieldTotalItems])
	if !ok || items < 0 || items >= maxQuantity {
		return out, errors.New("Invalid total_items")
	}
	out.TotalItems = int64(items)

	cost, ok := parseLooseNumber(row[schema.FieldTotalCost])
	if !ok || cost < 0 {
		return out, errors.New("Invalid total_cost")
	}
	out.TotalCost = cost

	if d, ok := parseLooseNumber(row[schema.FieldDiscountPercentage]); ok {
		out.DiscountPercentage = d
	}
	return out, nil
}

// Outcome is the result of running one raw row through every stage.
type Outcome struct {
	Row       schema.TransformedRow
	Rejection *schema.RejectionRecord
}

// Process normalizes, validates and transforms raw with v. The canonical row
// is returned in both cases so callers can inspect it (e.g. for channel
// inference).
func Process(v *Validator, line int, raw schema.RawRow) (schema.CanonicalRow, Outcome) {
	row := Normalize(raw)
	return row, Check(v, line, row)
}

// Check validates and transforms an already normalized row.
func Check(v *Validator, line int, row schema.CanonicalRow) Outcome {
	if reason := v.Validate(row); reason != "" {
		rej := schema.Reject(line, row, reason)
		return Outcome{Rejection: &rej}
	}
	tr, err := Transform(line, row)
	if err != nil {
		rej := schema.Reject(line, row, err.Error())
		return Outcome{Rejection: &rej}
	}
	return Outcome{Row: tr}
}
