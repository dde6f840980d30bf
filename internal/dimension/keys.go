package dimension

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"salesetl/internal/schema"
)

// foldCode reduces s to its natural-key form: compatibility-normalized,
// diacritics removed, whitespace runs collapsed to "_". A fresh transformer
// chain is built per call; chains carry state.
func foldCode(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.FieldsFunc(out, unicode.IsSpace), "_")
}

// ProductSKU derives the product natural key: lower-case, "_" for spaces.
func ProductSKU(product string) string {
	return cases.Lower(language.Und).String(foldCode(product))
}

// StoreCode derives the store natural key from channel and city:
// "ONLINE_NEW_YORK". An empty city yields no key.
func StoreCode(channel, city string) string {
	if strings.TrimSpace(city) == "" {
		return ""
	}
	return cases.Upper(language.Und).String(foldCode(channel + " " + city))
}

// CustomerCode derives the customer natural key from the customer name.
func CustomerCode(name string) string {
	return cases.Lower(language.Und).String(foldCode(name))
}

// defaultSegment is assigned to every customer; segmentation happens
// downstream.
const defaultSegment = "New"

// Entry is one dimension a transformed row resolves to.
type Entry struct {
	Table schema.DimensionTable
	Key   string
	Attrs map[string]string
}

// ProductEntry tracks name and unit price (total_cost / total_items, 0 for
// zero items).
func ProductEntry(r schema.TransformedRow) Entry {
	return Entry{
		Table: schema.ProductDimension,
		Key:   ProductSKU(r.Product),
		Attrs: map[string]string{
			"product_name": r.Product,
			"unit_price":   FormatMoney(UnitPrice(r.TotalCost, r.TotalItems)),
		},
	}
}

// StoreEntry tracks the channel/city outlet.
func StoreEntry(r schema.TransformedRow) Entry {
	return Entry{
		Table: schema.StoreDimension,
		Key:   StoreCode(r.Channel, r.City),
		Attrs: map[string]string{
			"store_name": r.Channel + " - " + r.City,
			"city":       r.City,
			"store_type": r.Channel,
		},
	}
}

// CustomerEntry tracks name, city and segment.
func CustomerEntry(r schema.TransformedRow) Entry {
	return Entry{
		Table: schema.CustomerDimension,
		Key:   CustomerCode(r.CustomerName),
		Attrs: map[string]string{
			"customer_name":    r.CustomerName,
			"city":             r.City,
			"customer_segment": defaultSegment,
		},
	}
}

// UnitPrice is cost per item; zero items price at 0.
func UnitPrice(totalCost float64, items int64) float64 {
	if items == 0 {
		return 0
	}
	return totalCost / float64(items)
}

// FormatMoney renders v with two decimals.
func FormatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
