// Package schema holds the record types that flow through the sales loader:
// raw and canonical CSV rows, transformed rows ready for the warehouse,
// rejections, dimension versions, facts, run bookkeeping and data-quality
// metrics.
package schema

import (
	"strings"
	"time"
)

// Layouts used for the canonical timestamp and calendar-date representations.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// Canonical field names of a sales row.
const (
	FieldTransactionID      = "transaction_id"
	FieldTransactionDate    = "transaction_date"
	FieldCustomerName       = "customer_name"
	FieldProduct            = "product"
	FieldTotalItems         = "total_items"
	FieldTotalCost          = "total_cost"
	FieldPaymentMethod      = "payment_method"
	FieldCity               = "city"
	FieldDiscountPercentage = "discount_percentage"
	FieldSeason             = "season"
	FieldChannel            = "channel"
)

// CanonicalFields lists the fixed field set in column order.
var CanonicalFields = []string{
	FieldTransactionID,
	FieldTransactionDate,
	FieldCustomerName,
	FieldProduct,
	FieldTotalItems,
	FieldTotalCost,
	FieldPaymentMethod,
	FieldCity,
	FieldDiscountPercentage,
	FieldSeason,
	FieldChannel,
}

// IsCanonical reports whether name is one of CanonicalFields.
func IsCanonical(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// RawRow is one CSV line keyed by its header exactly as it appeared in the file.
type RawRow map[string]string

// CanonicalRow is a RawRow re-keyed onto CanonicalFields. Unknown columns keep
// their original header.
type CanonicalRow map[string]string

// Get returns the trimmed value for field ("" when absent).
func (r CanonicalRow) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// Extra returns the columns that are not part of the canonical field set.
func (r CanonicalRow) Extra() map[string]string {
	var out map[string]string
	for k, v := range r {
		if IsCanonical(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of r.
func (r CanonicalRow) Clone() CanonicalRow {
	out := make(CanonicalRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Channel is the sales channel a transaction came through.
type Channel string

const (
	ChannelStore     Channel = "STORE"
	ChannelWarehouse Channel = "WAREHOUSE"
	ChannelOnline    Channel = "ONLINE"
)

// Channels lists the accepted channel tags.
var Channels = []Channel{ChannelStore, ChannelWarehouse, ChannelOnline}

// ParseChannel matches s case-insensitively against Channels.
func ParseChannel(s string) (Channel, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, c := range Channels {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// TransformedRow is a validated row with typed, normalized values. Empty
// strings in the optional text fields stand for NULL.
type TransformedRow struct {
	Line               int
	TransactionID      int64
	TransactionDate    time.Time
	CustomerName       string
	Product            string
	City               string
	PaymentMethod      string
	Season             string
	Channel            string
	TotalItems         int64
	TotalCost          float64
	DiscountPercentage float64
	Source             CanonicalRow
}

// Timestamp renders TransactionDate in TimestampLayout (UTC).
func (r TransformedRow) Timestamp() string {
	return r.TransactionDate.UTC().Format(TimestampLayout)
}

// RejectionRecord carries the original fields of a row that could not be
// loaded together with a human-readable reason.
type RejectionRecord struct {
	Line   int
	Fields CanonicalRow
	Reason string
}

// Reject builds a RejectionRecord from a canonical row.
func Reject(line int, row CanonicalRow, reason string) RejectionRecord {
	return RejectionRecord{Line: line, Fields: row, Reason: reason}
}

// DimensionTable describes one SCD2 dimension: its surrogate id column, the
// natural key column and the attribute columns whose changes open a new
// version. NumericAttributes marks the attributes stored as numbers.
type DimensionTable struct {
	Name              string
	IDColumn          string
	KeyColumn         string
	Attributes        []string
	NumericAttributes []string
}

// IsNumeric reports whether attr is stored as a number.
func (d DimensionTable) IsNumeric(attr string) bool {
	for _, a := range d.NumericAttributes {
		if a == attr {
			return true
		}
	}
	return false
}

var (
	ProductDimension = DimensionTable{
		Name:              "dim_products",
		IDColumn:          "product_id",
		KeyColumn:         "product_sku",
		Attributes:        []string{"product_name", "unit_price"},
		NumericAttributes: []string{"unit_price"},
	}
	StoreDimension = DimensionTable{
		Name:       "dim_stores",
		IDColumn:   "store_id",
		KeyColumn:  "store_code",
		Attributes: []string{"store_name", "city", "store_type"},
	}
	CustomerDimension = DimensionTable{
		Name:       "dim_customers",
		IDColumn:   "customer_id",
		KeyColumn:  "customer_code",
		Attributes: []string{"customer_name", "city", "customer_segment"},
	}
)

// DimensionTables lists the SCD2 dimensions of the warehouse.
var DimensionTables = []DimensionTable{ProductDimension, StoreDimension, CustomerDimension}

// DimensionRecord is one version of a business entity. Attributes hold the
// textual form of the tracked columns; an empty value means NULL.
type DimensionRecord struct {
	ID         int64
	NaturalKey string
	Attributes map[string]string
	IsCurrent  bool
	ValidFrom  time.Time
	ValidTo    *time.Time
}

// TimeDimensionRecord is one calendar date with precomputed attributes.
type TimeDimensionRecord struct {
	ID            int64
	Date          time.Time
	Year          int
	Quarter       int
	Month         int
	MonthName     string
	Week          int
	Day           int
	DayName       string
	IsWeekend     bool
	IsHoliday     bool
	Season        string
	FiscalYear    int
	FiscalQuarter int
}

// FactSalesRecord is one accepted transaction. Nil foreign keys are stored as
// NULL.
type FactSalesRecord struct {
	TransactionID   int64
	TransactionDate time.Time
	ProductID       *int64
	StoreID         *int64
	CustomerID      *int64
	TimeID          *int64
	Quantity        int64
	UnitPrice       float64
	TotalAmount     float64
	DiscountAmount  float64
	NetAmount       float64
	PaymentMethod   string
	Channel         string
	RunID           int64
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// PipelineRun is the audit row of one file-processing invocation.
type PipelineRun struct {
	ID           int64
	PipelineName string
	RunType      string
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Processed    int64
	Succeeded    int64
	Failed       int64
	Metadata     map[string]any
	ErrorMessage string
}

// CheckStatus is the verdict of one data-quality check.
type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckFail CheckStatus = "FAIL"
)

// DataQualityMetric is one persisted check result.
type DataQualityMetric struct {
	ID         int64
	CheckDate  time.Time
	CheckType  string
	TableName  string
	MetricName string
	Value      float64
	Threshold  float64
	Status     CheckStatus
	Details    map[string]int64
	CreatedAt  time.Time
}

// SchemaVersion records one observed header layout of an ingested table.
type SchemaVersion struct {
	TableName   string
	Version     int
	Fingerprint string
	Columns     []string
	CreatedAt   time.Time
}
