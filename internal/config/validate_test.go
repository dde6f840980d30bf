package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	p := Defaults()
	p.Storage.DB.DSN = "warehouse.db"
	p.Auth.APIKeys = []APIKey{{Key: "k1", Role: "operator"}}
	return p
}

/*
TestValidatePipeline_ValidMinimal verifies that defaults plus a DSN and a key
produce no issues.
*/
func TestValidatePipeline_ValidMinimal(t *testing.T) {
	t.Parallel()

	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("ValidatePipeline() = %+v, want no issues", issues)
	}
}

// TestValidatePipeline_Findings drives each check through one bad value.
func TestValidatePipeline_Findings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Pipeline)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"missing job", func(p *Pipeline) { p.Job = " " }, SeverityError, "job", "job must not be empty"},
		{"unknown source", func(p *Pipeline) { p.Source.Kind = "ftp" }, SeverityError, "source.kind", "unknown source kind"},
		{"negative http retries", func(p *Pipeline) { p.Source.HTTP.MaxRetries = -1 }, SeverityError, "source.http.max_retries", "must not be negative"},
		{"insecure http", func(p *Pipeline) { p.Source.HTTP.InsecureSkipVerify = true }, SeverityWarning, "source.http.insecure_skip_verify", "verification is disabled"},
		{"s3 without region", func(p *Pipeline) { p.Source.Kind = "s3" }, SeverityWarning, "source.s3.region", "no region"},
		{"xml parser", func(p *Pipeline) { p.Parser.Kind = "xml" }, SeverityError, "parser.kind", "only csv"},
		{"long comma", func(p *Pipeline) { p.Parser.Options = Options{"comma": ";;"} }, SeverityError, "parser.options.comma", "single character"},
		{"empty storage kind", func(p *Pipeline) { p.Storage.Kind = "" }, SeverityError, "storage.kind", "must not be empty"},
		{"unknown storage kind", func(p *Pipeline) { p.Storage.Kind = "oracle" }, SeverityWarning, "storage.kind", "unknown storage kind"},
		{"missing dsn", func(p *Pipeline) { p.Storage.DB.DSN = "" }, SeverityError, "storage.db.dsn", "must not be empty"},
		{"inverted years", func(p *Pipeline) { p.Storage.DB.TimeDimension = YearRange{2030, 2020} }, SeverityError, "storage.db.time_dimension", "after end_year"},
		{"years out of range", func(p *Pipeline) { p.Storage.DB.TimeDimension = YearRange{1800, 2020} }, SeverityError, "storage.db.time_dimension", "outside 1900-2100"},
		{"zero batch", func(p *Pipeline) { p.Runtime.BatchSize = 0 }, SeverityError, "runtime.batch_size", "must be positive"},
		{"zero retries", func(p *Pipeline) { p.Runtime.MaxRetries = 0 }, SeverityError, "runtime.max_retries", "at least 1"},
		{"negative buffer", func(p *Pipeline) { p.Runtime.ChannelBuffer = -1 }, SeverityError, "runtime.channel_buffer", "must not be negative"},
		{"bad mode", func(p *Pipeline) { p.Dimensions.Mode = "merge" }, SeverityError, "dimensions.mode", "want upsert or lookup"},
		{"zero window", func(p *Pipeline) { p.Quality.WindowDays = 0 }, SeverityError, "quality.window_days", "must be positive"},
		{"bad cron", func(p *Pipeline) { p.Quality.Schedule = "every day" }, SeverityError, "quality.schedule", "invalid cron spec"},
		{"pushgateway without url", func(p *Pipeline) { p.Metrics = Metrics{Backend: "pushgateway"} }, SeverityError, "metrics.url", "requires a url"},
		{"unknown metrics", func(p *Pipeline) { p.Metrics.Backend = "graphite" }, SeverityWarning, "metrics.backend", "unknown metrics backend"},
		{"no credentials", func(p *Pipeline) { p.Auth = Auth{} }, SeverityWarning, "auth", "system identity"},
		{"bad role", func(p *Pipeline) { p.Auth.APIKeys[0].Role = "root" }, SeverityError, "auth.api_keys[0].role", "unknown role"},
		{"duplicate key", func(p *Pipeline) {
			p.Auth.APIKeys = append(p.Auth.APIKeys, APIKey{Key: "k1", Role: "admin"})
		}, SeverityError, "auth.api_keys[1].key", "duplicate api key"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validPipeline()
			tt.mutate(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("expected %s at %s containing %q; got %+v", tt.sev, tt.path, tt.msg, issues)
			}
		})
	}
}

// TestHasErrors verifies warnings alone do not count as errors.
func TestHasErrors(t *testing.T) {
	t.Parallel()

	if HasErrors([]Issue{{Severity: SeverityWarning}}) {
		t.Fatalf("HasErrors(warning) = true, want false")
	}
	if !HasErrors([]Issue{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Fatalf("HasErrors(error) = false, want true")
	}
}

// TestIssueError verifies the error rendering of an Issue.
func TestIssueError(t *testing.T) {
	t.Parallel()

	iss := Issue{Severity: SeverityError, Path: "job", Message: "job must not be empty"}
	if got, want := iss.Error(), "error at job: job must not be empty"; got != want {
		t.Fatalf("Issue.Error() = %q, want %q", got, want)
	}
}
