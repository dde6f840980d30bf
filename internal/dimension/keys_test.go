package dimension

import (
	"testing"
	"time"

	"salesetl/internal/schema"
)

// TestNaturalKeys checks key derivation for each dimension.
func TestNaturalKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"sku lowercases", ProductSKU("Shampoo"), "shampoo"},
		{"sku joins words", ProductSKU("Hair  Gel\tXL"), "hair_gel_xl"},
		{"sku strips accents", ProductSKU("Crème Brûlée"), "creme_brulee"},
		{"sku empty", ProductSKU("  "), ""},
		{"store code", StoreCode("ONLINE", "New York"), "ONLINE_NEW_YORK"},
		{"store accents", StoreCode("STORE", "São Paulo"), "STORE_SAO_PAULO"},
		{"store without city", StoreCode("STORE", " "), ""},
		{"customer code", CustomerCode("Ann  Lee"), "ann_lee"},
		{"customer fullwidth", CustomerCode("ＡＢＣ"), "abc"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Fatalf("got %q; want %q", tt.got, tt.want)
			}
		})
	}
}

// TestEntries checks the attributes each dimension tracks for a row.
func TestEntries(t *testing.T) {
	t.Parallel()
	r := schema.TransformedRow{
		TransactionID:   7,
		TransactionDate: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
		CustomerName:    "Ann Lee",
		Product:         "Soap",
		City:            "Boston",
		Channel:         "STORE",
		TotalItems:      4,
		TotalCost:       10,
	}

	p := ProductEntry(r)
	if p.Key != "soap" || p.Attrs["unit_price"] != "2.50" || p.Attrs["product_name"] != "Soap" {
		t.Fatalf("product entry = %+v", p)
	}
	s := StoreEntry(r)
	if s.Key != "STORE_BOSTON" || s.Attrs["store_name"] != "STORE - Boston" || s.Attrs["store_type"] != "STORE" {
		t.Fatalf("store entry = %+v", s)
	}
	c := CustomerEntry(r)
	if c.Key != "ann_lee" || c.Attrs["customer_segment"] != "New" || c.Attrs["city"] != "Boston" {
		t.Fatalf("customer entry = %+v", c)
	}

	r.TotalItems = 0
	if got := ProductEntry(r).Attrs["unit_price"]; got != "0.00" {
		t.Fatalf("zero-item unit_price = %q; want 0.00", got)
	}
}
