package ddl

import "salesetl/internal/schema"

// Table names of the run-bookkeeping and quality tables.
const (
	TableFacts         = "fact_sales"
	TableRejections    = "rejected_sales"
	TableTime          = "dim_time"
	TableRuns          = "pipeline_runs"
	TableSchemaVersion = "schema_versions"
	TableQuality       = "data_quality_metrics"
)

func serial(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: KindSerial, Nullable: true, PrimaryKey: true}
}

func col(name, kind string, nullable bool) ColumnDef {
	return ColumnDef{Name: name, Kind: kind, Nullable: nullable}
}

func createdAt(name string) ColumnDef {
	return ColumnDef{Name: name, Kind: KindTimestamp, Default: "CURRENT_TIMESTAMP"}
}

// scdTable declares an SCD2 dimension. Only one row per natural key may be
// current; the partial unique index enforces it.
func scdTable(d schema.DimensionTable, extra ...string) TableDef {
	cols := []ColumnDef{
		serial(d.IDColumn),
		col(d.KeyColumn, KindText, false),
	}
	for _, a := range d.Attributes {
		kind := KindText
		if d.IsNumeric(a) {
			kind = KindMoney
		}
		cols = append(cols, col(a, kind, true))
	}
	for _, a := range extra {
		cols = append(cols, col(a, KindText, true))
	}
	cols = append(cols,
		col("is_current", KindBool, false),
		col("valid_from", KindTimestamp, false),
		col("valid_to", KindTimestamp, true),
	)
	return TableDef{
		FQN:     d.Name,
		Columns: cols,
		Indexes: []IndexDef{
			{Name: "ux_" + d.Name + "_current", Columns: []string{d.KeyColumn}, Unique: true, Where: "is_current"},
			{Name: "ix_" + d.Name + "_key_from", Columns: []string{d.KeyColumn, "valid_from"}},
		},
	}
}

// RunsTable is the pipeline run audit table. It is also created on demand
// when a run starts before the schema was provisioned.
var RunsTable = TableDef{
	FQN: TableRuns,
	Columns: []ColumnDef{
		serial("run_id"),
		col("pipeline_name", KindText, false),
		col("run_type", KindText, false),
		col("status", KindText, false),
		col("started_at", KindTimestamp, false),
		col("completed_at", KindTimestamp, true),
		{Name: "rows_processed", Kind: KindBigInt, Default: "0"},
		{Name: "rows_succeeded", Kind: KindBigInt, Default: "0"},
		{Name: "rows_failed", Kind: KindBigInt, Default: "0"},
		col("error_message", KindText, true),
		col("metadata", KindJSON, true),
	},
	Indexes: []IndexDef{
		{Name: "ix_pipeline_runs_started", Columns: []string{"started_at"}},
	},
}

// Warehouse returns the full star schema plus bookkeeping tables in creation
// order.
func Warehouse() []TableDef {
	return []TableDef{
		scdTable(schema.ProductDimension, "category", "brand"),
		scdTable(schema.StoreDimension, "region"),
		scdTable(schema.CustomerDimension),
		{
			FQN: TableTime,
			Columns: []ColumnDef{
				serial("time_id"),
				{Name: "date", Kind: KindDate, Unique: true},
				col("year", KindInt, false),
				col("quarter", KindInt, false),
				col("month", KindInt, false),
				col("month_name", KindText, false),
				col("week", KindInt, false),
				col("day", KindInt, false),
				col("day_name", KindText, false),
				col("is_weekend", KindBool, false),
				col("is_holiday", KindBool, false),
				col("season", KindText, false),
				col("fiscal_year", KindInt, false),
				col("fiscal_quarter", KindInt, false),
			},
		},
		{
			FQN: TableFacts,
			Columns: []ColumnDef{
				serial("sale_id"),
				{Name: "transaction_id", Kind: KindBigInt, Unique: true},
				col("transaction_date", KindTimestamp, false),
				col("product_id", KindBigInt, true),
				col("store_id", KindBigInt, true),
				col("customer_id", KindBigInt, true),
				col("time_id", KindBigInt, true),
				col("quantity", KindBigInt, false),
				col("unit_price", KindMoney, false),
				col("total_amount", KindMoney, false),
				{Name: "discount_amount", Kind: KindMoney, Default: "0"},
				col("net_amount", KindMoney, false),
				col("payment_method", KindText, true),
				col("channel", KindText, true),
				col("run_id", KindBigInt, true),
				createdAt("loaded_at"),
			},
			Indexes: []IndexDef{
				{Name: "ix_fact_sales_date", Columns: []string{"transaction_date"}},
			},
		},
		{
			FQN: TableRejections,
			Columns: []ColumnDef{
				serial("rejection_id"),
				col("run_id", KindBigInt, true),
				col("line_number", KindInt, true),
				col(schema.FieldTransactionID, KindText, true),
				col(schema.FieldTransactionDate, KindText, true),
				col(schema.FieldCustomerName, KindText, true),
				col(schema.FieldProduct, KindText, true),
				col(schema.FieldTotalItems, KindText, true),
				col(schema.FieldTotalCost, KindText, true),
				col(schema.FieldPaymentMethod, KindText, true),
				col(schema.FieldCity, KindText, true),
				col(schema.FieldDiscountPercentage, KindText, true),
				col(schema.FieldSeason, KindText, true),
				col(schema.FieldChannel, KindText, true),
				col("rejection_reason", KindText, false),
				col("row_hash", KindText, true),
				col("extra", KindJSON, true),
				createdAt("rejected_at"),
			},
			Indexes: []IndexDef{
				{Name: "ix_rejected_sales_run", Columns: []string{"run_id"}},
			},
		},
		RunsTable,
		{
			FQN: TableSchemaVersion,
			Columns: []ColumnDef{
				serial("version_id"),
				col("table_name", KindText, false),
				col("version_number", KindInt, false),
				col("fingerprint", KindText, false),
				col("schema_definition", KindJSON, false),
				createdAt("created_at"),
			},
			Indexes: []IndexDef{
				{Name: "ux_schema_versions_table_version", Columns: []string{"table_name", "version_number"}, Unique: true},
			},
		},
		{
			FQN: TableQuality,
			Columns: []ColumnDef{
				serial("metric_id"),
				col("check_date", KindDate, false),
				col("check_type", KindText, false),
				col("table_name", KindText, false),
				col("metric_name", KindText, false),
				col("metric_value", KindNumeric, false),
				col("threshold", KindNumeric, false),
				col("status", KindText, false),
				col("details", KindJSON, true),
				createdAt("created_at"),
			},
			Indexes: []IndexDef{
				{Name: "ix_data_quality_metrics_date_type", Columns: []string{"check_date", "check_type"}},
			},
		},
	}
}
