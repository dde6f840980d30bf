// Package transformer turns raw CSV rows into warehouse-ready sales rows.
//
// The three stages run per row, in order:
//
//	Normalize  RawRow       -> CanonicalRow    (header aliasing, never fails)
//	Validator  CanonicalRow -> reason | ok     (required fields, signs, in-file duplicates)
//	Transform  CanonicalRow -> TransformedRow  (typed values, canonical timestamp)
//
// Rows that fail validation or transformation are turned into
// schema.RejectionRecord values by the caller; they never abort a run.
package transformer

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"salesetl/internal/schema"
)

// headerAliases lists, per canonical field, the accepted header spellings in
// priority order. Matching is case- and whitespace-insensitive.
var headerAliases = map[string][]string{
	schema.FieldTransactionID:      {"transaction_id", "transaction id", "transactionid", "id"},
	schema.FieldTransactionDate:    {"transaction_date", "transaction date", "transactiondate", "date"},
	schema.FieldCustomerName:       {"customer_name", "customer name", "customername", "customer"},
	schema.FieldProduct:            {"product", "item", "product_name", "product name"},
	schema.FieldTotalItems:         {"total_items", "total items", "totalitems", "quantity", "qty", "items"},
	schema.FieldTotalCost:          {"total_cost", "total cost", "totalcost", "amount", "price", "cost"},
	schema.FieldPaymentMethod:      {"payment_method", "payment method", "paymentmethod", "payment"},
	schema.FieldCity:               {"city", "location", "store_city", "store city"},
	schema.FieldDiscountPercentage: {"discount_percentage", "discount percentage", "discountpercentage", "discount", "discount%"},
	schema.FieldSeason:             {"season"},
	schema.FieldChannel:            {"channel", "store_type", "inventory_type", "source", "location_type", "sales_channel", "channel_type"},
}

type aliasTarget struct {
	field    string
	priority int
}

// aliasIndex maps a normalized header spelling to its canonical field.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]aliasTarget {
	idx := make(map[string]aliasTarget)
	for field, aliases := range headerAliases {
		for i, a := range aliases {
			key := NormalizeHeader(a)
			if prev, ok := idx[key]; ok && prev.priority <= i {
				continue
			}
			idx[key] = aliasTarget{field: field, priority: i}
		}
	}
	return idx
}

// NormalizeHeader folds a header spelling into its comparison form: Unicode
// NFKC, BOM and surrounding space removed, case-folded, inner whitespace runs
// collapsed to a single underscore.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	h = norm.NFKC.String(h)
	h = strings.TrimSpace(h)
	if h == "" {
		return ""
	}
	h = cases.Fold().String(h) // Casers are stateful; one per call
	return strings.Join(strings.FieldsFunc(h, unicode.IsSpace), "_")
}

// CanonicalField returns the canonical field a header maps to.
func CanonicalField(header string) (string, bool) {
	t, ok := aliasIndex[NormalizeHeader(header)]
	return t.field, ok
}

// Normalize re-keys raw onto the canonical field set. When several headers map
// to the same field, the highest-priority alias with a non-blank value wins;
// ties are broken by the lexically smallest raw header so that the result never
// depends on map iteration order. Headers that match no alias pass through
// unchanged.
func Normalize(raw schema.RawRow) schema.CanonicalRow {
	type candidate struct {
		header   string
		priority int
		blank    bool
	}
	best := make(map[string]candidate, len(schema.CanonicalFields))
	out := make(schema.CanonicalRow, len(raw))

	headers := make([]string, 0, len(raw))
	for h := range raw {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	for _, h := range headers {
		t, ok := aliasIndex[NormalizeHeader(h)]
		if !ok {
			out[h] = raw[h]
			continue
		}
		c := candidate{header: h, priority: t.priority, blank: strings.TrimSpace(raw[h]) == ""}
		prev, seen := best[t.field]
		if !seen || better(c.blank, c.priority, prev.blank, prev.priority) {
			best[t.field] = c
		}
	}
	for field, c := range best {
		out[field] = raw[c.header]
	}
	return out
}

// better orders alias candidates: non-blank before blank, then by alias
// priority. Equal candidates keep the earlier (lexically smaller) header.
func better(blank bool, prio int, prevBlank bool, prevPrio int) bool {
	if blank != prevBlank {
		return !blank
	}
	return prio < prevPrio
}
