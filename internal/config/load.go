package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: storage.db.dsn is read from
// SALESETL_STORAGE_DB_DSN.
const EnvPrefix = "SALESETL"

// Defaults returns the configuration used when no file sets a value.
func Defaults() Pipeline {
	return Pipeline{
		Job:     "batch_sales_pipeline",
		Source:  Source{Kind: "file", HTTP: SourceHTTP{Timeout: 5 * time.Minute, MaxRetries: 3}},
		Parser:  Parser{Kind: "csv", Options: Options{}},
		Storage: Storage{Kind: "sqlite", DB: DBConfig{TimeDimension: YearRange{StartYear: 2020, EndYear: 2030}}},
		Runtime: RuntimeConfig{
			BatchSize:     1000,
			MaxRetries:    3,
			RetryDelay:    time.Second,
			ChannelBuffer: 256,
		},
		Dimensions: Dimensions{Mode: DimensionModeUpsert},
		Quality:    Quality{WindowDays: 7, Schedule: "@daily"},
		Metrics:    Metrics{Backend: "none", URL: "http://localhost:9091", DatadogAddr: "127.0.0.1:8125"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("job", d.Job)
	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.file.path", "")
	v.SetDefault("source.s3.region", "")
	v.SetDefault("source.s3.endpoint", "")
	v.SetDefault("source.s3.use_path_style", false)
	v.SetDefault("source.http.timeout", d.Source.HTTP.Timeout)
	v.SetDefault("source.http.max_retries", d.Source.HTTP.MaxRetries)
	v.SetDefault("source.http.bearer_token", "")
	v.SetDefault("source.http.insecure_skip_verify", false)
	v.SetDefault("parser.kind", d.Parser.Kind)
	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.db.dsn", "")
	v.SetDefault("storage.db.max_conns", 0)
	v.SetDefault("storage.db.auto_create_schema", false)
	v.SetDefault("storage.db.time_dimension.start_year", d.Storage.DB.TimeDimension.StartYear)
	v.SetDefault("storage.db.time_dimension.end_year", d.Storage.DB.TimeDimension.EndYear)
	v.SetDefault("runtime.batch_size", d.Runtime.BatchSize)
	v.SetDefault("runtime.max_retries", d.Runtime.MaxRetries)
	v.SetDefault("runtime.retry_delay", d.Runtime.RetryDelay)
	v.SetDefault("runtime.channel_buffer", d.Runtime.ChannelBuffer)
	v.SetDefault("dimensions.mode", d.Dimensions.Mode)
	v.SetDefault("quality.window_days", d.Quality.WindowDays)
	v.SetDefault("quality.schedule", d.Quality.Schedule)
	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.url", d.Metrics.URL)
	v.SetDefault("metrics.datadog_addr", d.Metrics.DatadogAddr)
	v.SetDefault("auth.jwt_secret", "")
}

// Load reads path (JSON, YAML or TOML by extension) on top of Defaults and
// applies SALESETL_* environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (Pipeline, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Pipeline{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	return p, nil
}
