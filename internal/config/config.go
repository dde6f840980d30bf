// Package config defines the configuration model of the sales loader. A
// Pipeline value is loaded once (see Load) and passed explicitly into every
// pipeline invocation; no package-level state holds it.
//
// Example (trimmed, YAML):
//
//	job: batch_sales_pipeline
//	source:  { kind: file }
//	parser:  { kind: csv, options: { comma: "," } }
//	storage: { kind: postgres, db: { dsn: "postgresql://...", auto_create_schema: true } }
//	runtime: { batch_size: 1000, max_retries: 3, retry_delay: 1s }
//	quality: { window_days: 7, schedule: "@daily" }
package config

import (
	"encoding/json"
	"time"
)

// Pipeline describes one configured sales loader. It is the top-level object
// decoded from a config file (JSON or YAML) plus SALESETL_* overrides.
type Pipeline struct {
	// Job names the pipeline in run rows and metric labels.
	Job string `json:"job" mapstructure:"job"`

	// Source describes where input data comes from (local file or S3).
	Source Source `json:"source" mapstructure:"source"`

	// Parser configures how raw bytes are turned into rows (CSV).
	Parser Parser `json:"parser" mapstructure:"parser"`

	// Storage describes the warehouse backend.
	Storage Storage       `json:"storage" mapstructure:"storage"`
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`

	Dimensions Dimensions `json:"dimensions" mapstructure:"dimensions"`
	Quality    Quality    `json:"quality" mapstructure:"quality"`
	Metrics    Metrics    `json:"metrics" mapstructure:"metrics"`
	Auth       Auth       `json:"auth" mapstructure:"auth"`
}

// RuntimeConfig controls batching, retries and channel buffer sizes.
type RuntimeConfig struct {
	BatchSize     int           `json:"batch_size" mapstructure:"batch_size"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay    time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	ChannelBuffer int           `json:"channel_buffer" mapstructure:"channel_buffer"`
}

// Source identifies the data source.
type Source struct {
	// Kind selects the source implementation: "file", "s3" or "http".
	Kind string `json:"kind" mapstructure:"kind"`

	// File carries options for the "file" source kind.
	File SourceFile `json:"file" mapstructure:"file"`

	// S3 carries options for the "s3" source kind.
	S3 SourceS3 `json:"s3" mapstructure:"s3"`

	// HTTP carries options for http(s):// locations.
	HTTP SourceHTTP `json:"http" mapstructure:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	// Path is the local filesystem path to the input file. The ingest command
	// overrides it with its argument.
	Path string `json:"path" mapstructure:"path"`
}

// SourceS3 holds configuration for the "s3" source kind. Objects are addressed
// as s3://bucket/key.
type SourceS3 struct {
	Region string `json:"region" mapstructure:"region"`
	// Endpoint overrides the service endpoint (MinIO, localstack).
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" mapstructure:"use_path_style"`
}

// SourceHTTP configures downloads of http(s):// extracts.
type SourceHTTP struct {
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	// BearerToken is sent as "Authorization: Bearer <token>" when set.
	BearerToken        string `json:"bearer_token" mapstructure:"bearer_token"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// Parser selects how to parse the raw source into rows.
type Parser struct {
	// Kind selects the parser implementation. Current value: "csv".
	Kind string `json:"kind" mapstructure:"kind"`

	// Options is a free-form map interpreted by the parser implementation.
	// For CSV: comma (string), lazy_quotes (bool), trim_space (bool).
	Options Options `json:"options" mapstructure:"options"`
}

// Storage selects the warehouse backend.
type Storage struct {
	// Kind selects the storage implementation: "postgres" or "sqlite".
	Kind string   `json:"kind" mapstructure:"kind"`
	DB   DBConfig `json:"db" mapstructure:"db"`
}

// DBConfig configures the warehouse connection.
type DBConfig struct {
	// DSN is the connection string (postgresql://... or a sqlite file path).
	DSN string `json:"dsn" mapstructure:"dsn"`

	// MaxConns bounds the connection pool; 0 keeps the backend default.
	MaxConns int `json:"max_conns" mapstructure:"max_conns"`

	// AutoCreateSchema provisions the warehouse tables before the first run
	// and seeds dim_time over TimeDimension.
	AutoCreateSchema bool `json:"auto_create_schema" mapstructure:"auto_create_schema"`

	TimeDimension YearRange `json:"time_dimension" mapstructure:"time_dimension"`
}

// YearRange is an inclusive range of calendar years.
type YearRange struct {
	StartYear int `json:"start_year" mapstructure:"start_year"`
	EndYear   int `json:"end_year" mapstructure:"end_year"`
}

// Dimension resolution modes.
const (
	DimensionModeUpsert = "upsert"
	DimensionModeLookup = "lookup"
)

// Dimensions controls how fact rows resolve their dimension keys.
type Dimensions struct {
	// Mode is "upsert" (create/version dimension rows) or "lookup" (resolve
	// current versions only; unknown keys load with a NULL foreign key).
	Mode string `json:"mode" mapstructure:"mode"`
}

// Quality configures the data-quality checker.
type Quality struct {
	// WindowDays is the trailing number of days of fact data scored per run.
	WindowDays int `json:"window_days" mapstructure:"window_days"`
	// Schedule is a cron spec (robfig/cron syntax, descriptors allowed).
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend string `json:"backend" mapstructure:"backend"`
	// URL is the Pushgateway base URL.
	URL string `json:"url" mapstructure:"url"`
	// DatadogAddr is the DogStatsD address.
	DatadogAddr string `json:"datadog_addr" mapstructure:"datadog_addr"`
}

// Auth configures the credentials accepted by the CLI.
type Auth struct {
	APIKeys   []APIKey `json:"api_keys" mapstructure:"api_keys"`
	JWTSecret string   `json:"jwt_secret" mapstructure:"jwt_secret"`
}

// APIKey maps a static key to a role.
type APIKey struct {
	Key  string `json:"key" mapstructure:"key"`
	Role string `json:"role" mapstructure:"role"`
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It purposefully performs only minimal type coercion and returns provided
// defaults when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character parser settings such as
// a CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
