package transformer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"salesetl/internal/schema"
)

// requiredFields are checked in this order; the first missing one names the
// rejection.
var requiredFields = []string{
	schema.FieldTransactionID,
	schema.FieldTransactionDate,
	schema.FieldCustomerName,
	schema.FieldProduct,
	schema.FieldCity,
	schema.FieldTotalItems,
	schema.FieldTotalCost,
}

// maxQuantity bounds total_items to what the int64 quantity column holds.
const maxQuantity = float64(math.MaxInt64)

// Validator checks canonical rows of a single file. It remembers every
// transaction_id it accepted so that a repeated id in the same file is
// rejected; ids that parse as integers are compared by value, so "12",
// "012" and "+12" collide. A Validator is not safe for concurrent use;
// create one per file.
type Validator struct {
	seen map[string]struct{}
}

// NewValidator returns a Validator with an empty seen-set.
func NewValidator() *Validator {
	return &Validator{seen: make(map[string]struct{})}
}

// Seen reports whether id was already accepted in this file.
func (v *Validator) Seen(id string) bool {
	_, ok := v.seen[idKey(id)]
	return ok
}

// Validate returns "" when row is acceptable and records its transaction_id.
// Otherwise it returns the rejection reason and leaves the seen-set untouched.
func (v *Validator) Validate(row schema.CanonicalRow) string {
	for _, f := range requiredFields {
		if row.Get(f) == "" {
			return "Missing " + f
		}
	}

	items := row[schema.FieldTotalItems]
	if n, ok := parseLooseNumber(items); !ok || n < 0 || n >= maxQuantity {
		return fmt.Sprintf("Negative or invalid quantity: %s", items)
	}
	cost := row[schema.FieldTotalCost]
	if n, ok := parseLooseNumber(cost); !ok || n < 0 {
		return fmt.Sprintf("Negative or invalid sales amount: %s", cost)
	}

	id := row.Get(schema.FieldTransactionID)
	key := idKey(id)
	if _, dup := v.seen[key]; dup {
		return fmt.Sprintf("Duplicate transaction_id: %s", id)
	}
	v.seen[key] = struct{}{}
	return ""
}

// idKey is the seen-set key of a transaction_id: its decimal value when it
// parses as an int64, the trimmed text otherwise.
func idKey(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return id
}

// stripNumeric drops everything but digits, signs and the decimal point, so
// "$1,234.50" becomes "1234.50".
func stripNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseLooseNumber parses s after stripNumeric. NaN and infinities are
// rejected.
func parseLooseNumber(s string) (float64, bool) {
	clean := stripNumeric(s)
	if clean == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
