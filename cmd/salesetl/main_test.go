package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesetl/internal/auth"
	"salesetl/internal/config"
	"salesetl/internal/datasource/file"
	"salesetl/internal/datasource/httpds"
	"salesetl/internal/pipeline"
)

const salesCSV = "transaction_id,date,customer_name,product,total_items,total_cost,payment_method,city,discount_percentage\n" +
	"1,2025-03-15 10:00:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
	"2,2025-03-15 11:00:00,Bob Roe,Soap,-1,5.00,Card,Boston,0\n" +
	"3,2025-03-16 12:30:00,Ann Lee,Hair Gel,1,7.50,Card,Chicago,10\n"

// execute runs the CLI with args and returns stdout. Flag variables are
// reset first because cobra only applies defaults at definition time.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath, credential, verbose = "", "", false
	ingestChannel, ingestList = "", ""
	qualityStrict, qualityDays, runsLimit = false, 7, 20

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeWarehouseConfig writes a sqlite config with schema bootstrap enabled.
func writeWarehouseConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "salesetl.yaml")
	body := fmt.Sprintf(`storage:
  kind: sqlite
  db:
    dsn: %s
    auto_create_schema: true
    time_dimension:
      start_year: 2025
      end_year: 2025
runtime:
  batch_size: 2
  retry_delay: 1ms
`, filepath.Join(dir, "wh.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestCLIEndToEnd ingests a file twice, then lists runs and scores the data
// through the command tree.
func TestCLIEndToEnd(t *testing.T) {
	color.NoColor = true
	t.Setenv(credentialEnv, "")
	dir := t.TempDir()
	cfgFile := writeWarehouseConfig(t, dir)
	input := filepath.Join(dir, "sales_store.csv")
	require.NoError(t, os.WriteFile(input, []byte(salesCSV), 0o644))

	out, err := execute(t, "--config", cfgFile, "ingest", input)
	require.NoError(t, err)
	assert.Contains(t, out, "sales_store.csv")
	assert.Contains(t, out, "SUCCESS (1 rejected)")

	out, err = execute(t, "--config", cfgFile, "ingest", input)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS (3 rejected)")

	out, err = execute(t, "--config", cfgFile, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "batch_sales_pipeline")
	assert.Equal(t, 2, strings.Count(out, "SUCCESS"))

	out, err = execute(t, "--config", cfgFile, "quality", "run")
	require.NoError(t, err)
	for _, check := range []string{"completeness", "validity", "consistency", "accuracy"} {
		assert.Contains(t, out, check)
	}

	out, err = execute(t, "--config", cfgFile, "quality", "metrics", "--days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "fact_sales")

	out, err = execute(t, "--config", cfgFile, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
}

func TestIngestRejectsInvalidChannel(t *testing.T) {
	t.Setenv(credentialEnv, "")
	cfgFile := writeWarehouseConfig(t, t.TempDir())

	_, err := execute(t, "--config", cfgFile, "ingest", "--channel", "kiosk", "x.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrInvalidChannel), "err = %v", err)
}

func TestConfigValidateFailsWithoutDSN(t *testing.T) {
	t.Setenv(credentialEnv, "")
	_, err := execute(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is invalid")
}

func TestResolveIdentity(t *testing.T) {
	t.Setenv(credentialEnv, "")
	open := config.Defaults()
	keyed := config.Defaults()
	keyed.Auth.APIKeys = []config.APIKey{{Key: "k-analyst-1234", Role: "analyst"}}

	id, err := resolveIdentity(open, "")
	require.NoError(t, err)
	assert.Equal(t, "system", id.Subject)

	_, err = resolveIdentity(keyed, "")
	assert.True(t, errors.Is(err, auth.ErrUnauthenticated), "err = %v", err)

	id, err = resolveIdentity(keyed, "k-analyst-1234")
	require.NoError(t, err)
	assert.Equal(t, "analyst", id.Role)
	assert.False(t, id.Has(auth.PermWrite))

	t.Setenv(credentialEnv, "k-analyst-1234")
	id, err = resolveIdentity(keyed, "")
	require.NoError(t, err)
	assert.Equal(t, "analyst", id.Role)

	_, err = resolveIdentity(keyed, "wrong")
	assert.True(t, errors.Is(err, auth.ErrUnauthenticated), "err = %v", err)
}

func TestIngestLocations(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "inputs.txt")
	require.NoError(t, os.WriteFile(list, []byte("# march\na.csv\n\ns3://bucket/b.csv\n"), 0o644))
	withPath := config.Defaults()
	withPath.Source.File.Path = "configured.csv"

	tests := []struct {
		name    string
		args    []string
		list    string
		cfg     config.Pipeline
		want    []string
		wantErr bool
	}{
		{"args only", []string{"x.csv"}, "", config.Defaults(), []string{"x.csv"}, false},
		{"args then list", []string{"x.csv"}, list, config.Defaults(), []string{"x.csv", "a.csv", "s3://bucket/b.csv"}, false},
		{"configured path", nil, "", withPath, []string{"configured.csv"}, false},
		{"args win over configured path", []string{"x.csv"}, "", withPath, []string{"x.csv"}, false},
		{"nothing", nil, "", config.Defaults(), nil, true},
		{"missing list", nil, filepath.Join(dir, "nope.txt"), config.Defaults(), nil, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ingestLocations(tt.args, tt.list, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSources(t *testing.T) {
	srcs, err := buildSources(t.Context(), config.Defaults(), []string{"/data/sales_online.csv", "https://example.com/x/sales_warehouse.csv"})
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.IsType(t, &file.Local{}, srcs[0])
	assert.Equal(t, "sales_online.csv", srcs[0].Name())
	assert.IsType(t, &httpds.Object{}, srcs[1])
	assert.Equal(t, "sales_warehouse.csv", srcs[1].Name())
}

func TestRenderIngest(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	renderIngest(&buf, []ingestOutcome{
		{Name: "ok.csv", Result: pipeline.RunResult{RunID: 7, Processed: 3, Succeeded: 3}},
		{Name: "bad.csv", Err: errors.New("open source bad.csv: no such file")},
	})
	out := buf.String()
	assert.Contains(t, out, "ok.csv")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "FAILED: open source bad.csv")
}
