// Package config provides configuration models and helpers for the sales
// loader.
//
// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "auth.api_keys[1].role"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
//
// Example:
//
//	p, err := config.Load(path)
//	if err != nil { ... }
//	issues := config.ValidatePipeline(p)
//	for _, iss := range issues {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateDimensions(p.Dimensions)...)
	issues = append(issues, validateQuality(p.Quality)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	issues = append(issues, validateAuth(p.Auth)...)

	return issues
}

// validateSource validates Source configuration.
func validateSource(s Source) []Issue {
	var issues []Issue

	switch s.Kind {
	case "file", "":
		// The path usually comes from the ingest command line.
	case "s3":
		if strings.TrimSpace(s.S3.Region) == "" && strings.TrimSpace(s.S3.Endpoint) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.s3.region",
				Message:  "s3 source has no region or endpoint; the AWS default chain will decide",
			})
		}
	case "http":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; want file, s3 or http", s.Kind),
		})
	}
	if s.HTTP.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.http.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	if s.HTTP.InsecureSkipVerify {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.http.insecure_skip_verify",
			Message:  "TLS certificate verification is disabled for http sources",
		})
	}

	return issues
}

// validateParser validates parser configuration.
func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only csv is supported", p.Kind),
		})
		return issues
	}
	if c := p.Options.String("comma", ","); len([]rune(c)) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("comma must be a single character, got %q", c),
		})
	}

	return issues
}

// validateStorage validates storage configuration and DB settings.
func validateStorage(s Storage) []Issue {
	var issues []Issue

	switch s.Kind {
	case "postgres", "sqlite":
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
		return issues
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	db := s.DB
	if strings.TrimSpace(db.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "storage.db.dsn must not be empty",
		})
	}
	if db.MaxConns < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.max_conns",
			Message:  "max_conns must not be negative",
		})
	}
	if r := db.TimeDimension; r.StartYear > r.EndYear {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.time_dimension",
			Message:  fmt.Sprintf("start_year %d is after end_year %d", r.StartYear, r.EndYear),
		})
	} else if r.StartYear < 1900 || r.EndYear > 2100 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.time_dimension",
			Message:  fmt.Sprintf("range %d-%d is outside 1900-2100", r.StartYear, r.EndYear),
		})
	}

	return issues
}

// validateRuntime validates RuntimeConfig for obvious misconfigurations
// (negative values, zero-sized batches, etc.).
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; batch size must be positive", r.BatchSize),
		})
	}
	if r.MaxRetries < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.max_retries",
			Message:  "max_retries must be at least 1 (one attempt)",
		})
	}
	if r.RetryDelay < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.retry_delay",
			Message:  "retry_delay must not be negative",
		})
	}
	if r.ChannelBuffer < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.channel_buffer",
			Message:  "channel_buffer must not be negative",
		})
	}

	return issues
}

func validateDimensions(d Dimensions) []Issue {
	switch d.Mode {
	case DimensionModeUpsert, DimensionModeLookup:
		return nil
	}
	return []Issue{{
		Severity: SeverityError,
		Path:     "dimensions.mode",
		Message:  fmt.Sprintf("unknown dimensions mode %q; want upsert or lookup", d.Mode),
	}}
}

func validateQuality(q Quality) []Issue {
	var issues []Issue

	if q.WindowDays <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "quality.window_days",
			Message:  "window_days must be positive",
		})
	}
	if strings.TrimSpace(q.Schedule) != "" {
		if _, err := cron.ParseStandard(q.Schedule); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "quality.schedule",
				Message:  fmt.Sprintf("invalid cron spec %q: %v", q.Schedule, err),
			})
		}
	}

	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.URL) == "" {
			return []Issue{{Severity: SeverityError, Path: "metrics.url", Message: "pushgateway backend requires a url"}}
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			return []Issue{{Severity: SeverityError, Path: "metrics.datadog_addr", Message: "datadog backend requires an address"}}
		}
	default:
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend),
		}}
	}
	return nil
}

func validateAuth(a Auth) []Issue {
	var issues []Issue

	if len(a.APIKeys) == 0 && strings.TrimSpace(a.JWTSecret) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "auth",
			Message:  "no api_keys or jwt_secret configured; commands run as the system identity",
		})
	}
	seen := map[string]struct{}{}
	for i, k := range a.APIKeys {
		if strings.TrimSpace(k.Key) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("auth.api_keys[%d].key", i),
				Message:  "api key must not be empty",
			})
		}
		if _, dup := seen[k.Key]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("auth.api_keys[%d].key", i),
				Message:  "duplicate api key",
			})
		}
		seen[k.Key] = struct{}{}
		switch k.Role {
		case "admin", "analyst", "operator":
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("auth.api_keys[%d].role", i),
				Message:  fmt.Sprintf("unknown role %q; want admin, analyst or operator", k.Role),
			})
		}
	}

	return issues
}
