package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"salesetl/internal/auth"
	"salesetl/internal/config"
	"salesetl/internal/datasource/file"
	"salesetl/internal/runs"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
	_ "salesetl/internal/storage/sqlite"
)

const header = "transaction_id,date,customer_name,product,total_items,total_cost,payment_method,city,discount_percentage\n"

const threeRows = header +
	"1,2025-03-15 10:00:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
	"2,2025-03-15 11:00:00,Bob Roe,Soap,-1,5.00,Card,Boston,0\n" +
	"3,15/03/2025 12:30,Ann Lee,Hair Gel,1,$7.50,Card,Chicago,10\n"

func openStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	s, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "wh.db")})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func testConfig() config.Pipeline {
	cfg := config.Defaults()
	cfg.Storage.DB.TimeDimension = config.YearRange{StartYear: 2025, EndYear: 2025}
	cfg.Runtime.RetryDelay = time.Millisecond
	cfg.Runtime.BatchSize = 2
	return cfg
}

func operator(t *testing.T) context.Context {
	t.Helper()
	id, err := auth.NewIdentity("ops", "operator")
	require.NoError(t, err)
	return auth.WithIdentity(context.Background(), id)
}

func listRuns(t *testing.T, s storage.Store) []schema.PipelineRun {
	t.Helper()
	rs, err := runs.NewTracker(s).List(auth.WithIdentity(context.Background(), auth.System()), 10)
	require.NoError(t, err)
	return rs
}

// TestProcessFileCountsAndReingest loads a file with one bad row, then loads
// it again: every previously loaded row becomes a store duplicate.
func TestProcessFileCountsAndReingest(t *testing.T) {
	ctx := operator(t)
	s := openStore(t)
	cfg := testConfig()
	require.NoError(t, Bootstrap(ctx, cfg, s))
	b := NewBatch(s)

	res, err := b.ProcessFile(ctx, cfg, []byte(threeRows), "sales.csv", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Processed)
	assert.Equal(t, int64(2), res.Succeeded)
	assert.Equal(t, int64(1), res.Failed)
	assert.Equal(t, "auto-detected", res.Metadata["channel"])
	assert.Equal(t, "sales.csv", res.Metadata["filename"])
	assert.NotEmpty(t, res.Metadata["run_key"])
	top, ok := res.Metadata["top_rejection_reasons"].([]ReasonCount)
	require.True(t, ok)
	require.Len(t, top, 1)
	assert.Equal(t, ReasonCount{Reason: "Negative or invalid quantity: -1", Count: 1}, top[0])
	assert.Equal(t, 1, res.Metadata["schema_version"])

	again, err := b.ProcessFile(ctx, cfg, []byte(threeRows), "sales.csv", "store")
	require.NoError(t, err)
	assert.Equal(t, int64(3), again.Processed)
	assert.Zero(t, again.Succeeded)
	assert.Equal(t, int64(3), again.Failed)
	assert.Equal(t, int64(2), again.Metadata["duplicates_in_store"])
	assert.Equal(t, "STORE", again.Metadata["channel"])
	assert.Equal(t, again.Processed, again.Succeeded+again.Failed)

	acc, err := s.AccuracyCounts(ctx, storage.Window{Since: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.Total)

	rs := listRuns(t, s)
	require.Len(t, rs, 2)
	for _, r := range rs {
		assert.Equal(t, schema.RunSuccess, r.Status)
		assert.Equal(t, RunTypeBatch, r.RunType)
	}
}

// TestProcessFileRejectsBeforeRun checks the guards that run before any run
// row exists.
func TestProcessFileRejectsBeforeRun(t *testing.T) {
	s := openStore(t)
	cfg := testConfig()
	require.NoError(t, Bootstrap(context.Background(), cfg, s))
	b := NewBatch(s)

	_, err := b.ProcessFile(operator(t), cfg, []byte(threeRows), "a.csv", "kiosk")
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = b.ProcessFile(context.Background(), cfg, []byte(threeRows), "a.csv", "")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	analyst, err := auth.NewIdentity("ann", "analyst")
	require.NoError(t, err)
	_, err = b.ProcessFile(auth.WithIdentity(context.Background(), analyst), cfg, []byte(threeRows), "a.csv", "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	assert.Empty(t, listRuns(t, s))
}

// TestProcessFileEmptyAndParseErrors covers empty input and malformed lines.
func TestProcessFileEmptyAndParseErrors(t *testing.T) {
	ctx := operator(t)
	s := openStore(t)
	cfg := testConfig()
	cfg.Parser.Options = config.Options{"lazy_quotes": false}
	require.NoError(t, Bootstrap(ctx, cfg, s))
	b := NewBatch(s)

	res, err := b.ProcessFile(ctx, cfg, nil, "empty.csv", "")
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	data := header +
		"1,2025-03-15 10:00:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
		"2,2025-03-15 10:00:00,Ann \"Lee,Soap,2,10.00,Cash,Boston,0\n" +
		"3,2025-03-15 10:00:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n"
	res, err = b.ProcessFile(ctx, cfg, []byte(data), "x.csv", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Processed)
	assert.Equal(t, int64(2), res.Succeeded)
	assert.Equal(t, int64(1), res.Failed)
	top := res.Metadata["top_rejection_reasons"].([]ReasonCount)
	require.Len(t, top, 1)
	assert.True(t, strings.HasPrefix(top[0].Reason, "CSV parse error"), top[0].Reason)
}

// TestExecuteLocalSource ingests a file from disk through the Executor
// interface.
func TestExecuteLocalSource(t *testing.T) {
	ctx := operator(t)
	s := openStore(t)
	cfg := testConfig()
	require.NoError(t, Bootstrap(ctx, cfg, s))

	path := filepath.Join(t.TempDir(), "online_orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(threeRows), 0o644))

	var ex Executor = NewBatch(s)
	res, err := ex.Execute(ctx, cfg, file.NewLocal(path))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Succeeded)
	assert.Equal(t, "online_orders.csv", res.Metadata["filename"])

	_, err = ex.Execute(ctx, cfg, file.NewLocal(filepath.Join(t.TempDir(), "missing.csv")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type flakyStore struct {
	storage.Store
	fail error
}

func (f *flakyStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, fail: f.fail}, nil
}

type flakyTx struct {
	storage.Tx
	fail error
}

func (t *flakyTx) InsertFacts(context.Context, []schema.FactSalesRecord) (int64, error) {
	return 0, t.fail
}

// TestProcessFileFailsAfterRetries marks the run FAILED once the batch
// retries are exhausted; nothing of the batch persists.
func TestProcessFileFailsAfterRetries(t *testing.T) {
	ctx := operator(t)
	base := openStore(t)
	cfg := testConfig()
	cfg.Runtime.MaxRetries = 2
	require.NoError(t, Bootstrap(ctx, cfg, base))

	cause := errors.New("connection reset by peer")
	b := NewBatch(&flakyStore{Store: base, fail: cause})
	res, err := b.ProcessFile(ctx, cfg, []byte(threeRows), "sales.csv", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, runs.ErrRetriesExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, res.Succeeded)
	assert.NotZero(t, res.RunID)

	rs := listRuns(t, base)
	require.Len(t, rs, 1)
	assert.Equal(t, schema.RunFailed, rs[0].Status)
	assert.Contains(t, rs[0].ErrorMessage, "load batch #1 failed after 2 attempts")

	acc, err := base.AccuracyCounts(ctx, storage.Window{Since: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Now: time.Now()})
	require.NoError(t, err)
	assert.Zero(t, acc.Total)
}

func reasonCounts(t *testing.T, res RunResult) map[string]int64 {
	t.Helper()
	top, ok := res.Metadata["top_rejection_reasons"].([]ReasonCount)
	require.True(t, ok)
	out := make(map[string]int64, len(top))
	for _, rc := range top {
		out[rc.Reason] = rc.Count
	}
	return out
}

// TestProcessFileEquivalentIDs loads ids that differ only in leading zeros
// or sign: the repeat is a row rejection and the run succeeds.
func TestProcessFileEquivalentIDs(t *testing.T) {
	ctx := operator(t)
	s := openStore(t)
	cfg := testConfig()
	cfg.Runtime.BatchSize = 10
	require.NoError(t, Bootstrap(ctx, cfg, s))

	data := header +
		"12,2025-03-15 10:00:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
		"012,2025-03-15 10:05:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
		"+12,2025-03-15 10:06:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
		"13,2025-03-15 11:00:00,Bob Roe,Hair Gel,1,7.50,Card,Boston,0\n"
	res, err := NewBatch(s).ProcessFile(ctx, cfg, []byte(data), "sales.csv", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Processed)
	assert.Equal(t, int64(2), res.Succeeded)
	assert.Equal(t, int64(2), res.Failed)
	reasons := reasonCounts(t, res)
	assert.Equal(t, int64(1), reasons["Duplicate transaction_id: 012"])
	assert.Equal(t, int64(1), reasons["Duplicate transaction_id: +12"])

	rs := listRuns(t, s)
	require.Len(t, rs, 1)
	assert.Equal(t, schema.RunSuccess, rs[0].Status)
}

// TestProcessFileOverflowingNumbers rejects ids and quantities beyond int64
// instead of storing wrapped values.
func TestProcessFileOverflowingNumbers(t *testing.T) {
	ctx := operator(t)
	s := openStore(t)
	cfg := testConfig()
	require.NoError(t, Bootstrap(ctx, cfg, s))

	data := header +
		"99999999999999999999,2025-03-15 10:00:00,Ann Lee,Soap,2,10.00,Cash,Boston,0\n" +
		"2,2025-03-15 10:05:00,Ann Lee,Soap,99999999999999999999,10.00,Cash,Boston,0\n" +
		"3,2025-03-15 11:00:00,Bob Roe,Hair Gel,1,7.50,Card,Boston,0\n"
	res, err := NewBatch(s).ProcessFile(ctx, cfg, []byte(data), "sales.csv", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Processed)
	assert.Equal(t, int64(1), res.Succeeded)
	assert.Equal(t, int64(2), res.Failed)
	reasons := reasonCounts(t, res)
	assert.Equal(t, int64(1), reasons["invalid transaction_id format"])
	assert.Equal(t, int64(1), reasons["Negative or invalid quantity: 99999999999999999999"])

	val, err := s.ValidityCounts(ctx, storage.Window{Since: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Now: time.Now()})
	require.NoError(t, err)
	assert.Zero(t, val.Details["invalid_quantity"])
	assert.Equal(t, schema.RunSuccess, listRuns(t, s)[0].Status)
}

// TestProcessFileConstraintIsNotRetried fails the run on the first attempt
// when the store reports a constraint violation.
func TestProcessFileConstraintIsNotRetried(t *testing.T) {
	ctx := operator(t)
	base := openStore(t)
	cfg := testConfig()
	cfg.Runtime.MaxRetries = 3
	require.NoError(t, Bootstrap(ctx, cfg, base))

	cause := fmt.Errorf("insert fact_sales: %w", storage.ErrConstraint)
	_, err := NewBatch(&flakyStore{Store: base, fail: cause}).ProcessFile(ctx, cfg, []byte(threeRows), "sales.csv", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrConstraint)
	assert.NotErrorIs(t, err, runs.ErrRetriesExhausted)

	rs := listRuns(t, base)
	require.Len(t, rs, 1)
	assert.Equal(t, schema.RunFailed, rs[0].Status)
}

// TestSCD2ConcurrentRuns loads the same product at different prices from
// several runs at once, each on its own connection to one warehouse file.
// Exactly one version of the product stays current and every fact lands.
func TestSCD2ConcurrentRuns(t *testing.T) {
	const (
		workers = 4
		perRun  = 20
	)
	ctx := operator(t)
	dsn := filepath.Join(t.TempDir(), "wh.db")
	cfg := testConfig()

	open := func() storage.Store {
		s, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	}
	require.NoError(t, Bootstrap(ctx, cfg, open()))

	stores := make([]storage.Store, workers)
	for i := range stores {
		stores[i] = open()
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		var sb strings.Builder
		sb.WriteString(header)
		for j := 0; j < perRun; j++ {
			fmt.Fprintf(&sb, "%d,2025-03-15 10:%02d:00,Ann Lee,Soap,1,%d.00,Cash,Boston,0\n", w*1000+j+1, j, 10+w)
		}
		data, name, s := []byte(sb.String()), fmt.Sprintf("sales_store_%d.csv", w), stores[w]
		g.Go(func() error {
			res, err := NewBatch(s).ProcessFile(gctx, cfg, data, name, "")
			if err != nil {
				return err
			}
			if res.Succeeded != perRun {
				return fmt.Errorf("%s: succeeded=%d want %d", name, res.Succeeded, perRun)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var current, skus, facts int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dim_products WHERE is_current = 1").Scan(&current))
	require.NoError(t, db.QueryRow("SELECT COUNT(DISTINCT product_sku) FROM dim_products").Scan(&skus))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM fact_sales").Scan(&facts))
	assert.Equal(t, int64(1), skus)
	assert.Equal(t, int64(1), current)
	assert.Equal(t, int64(workers*perRun), facts)

	for _, r := range listRuns(t, stores[0]) {
		assert.Equal(t, schema.RunSuccess, r.Status)
	}
}

// TestChannelPicker covers the inference order.
func TestChannelPicker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		explicit schema.Channel
		filename string
		rows     []string
		want     []string
	}{
		{"explicit wins", schema.ChannelOnline, "store.csv", []string{"warehouse", ""}, []string{"ONLINE", "ONLINE"}},
		{"own column", "", "x.csv", []string{" online ", "store"}, []string{"ONLINE", "STORE"}},
		{"first row fills blanks", "", "x.csv", []string{"warehouse", "", "online"}, []string{"WAREHOUSE", "WAREHOUSE", "ONLINE"}},
		{"filename keyword", "", "Q1_Warehouse_Export.csv", []string{"", ""}, []string{"WAREHOUSE", "WAREHOUSE"}},
		{"blank first row uses filename", "", "online.csv", []string{"", "store"}, []string{"ONLINE", "STORE"}},
		{"default store", "", "export.csv", []string{""}, []string{"STORE"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newChannelPicker(tt.explicit, tt.filename)
			for i, v := range tt.rows {
				row := schema.CanonicalRow{}
				if v != "" {
					row[schema.FieldChannel] = v
				}
				p.apply(row)
				if got := row[schema.FieldChannel]; got != tt.want[i] {
					t.Fatalf("row %d channel = %q; want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

// TestParseExplicitChannel accepts the three channels in any case.
func TestParseExplicitChannel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]schema.Channel{"": "", "store": schema.ChannelStore, " Online ": schema.ChannelOnline, "WAREHOUSE": schema.ChannelWarehouse} {
		got, err := ParseExplicitChannel(in)
		if err != nil || got != want {
			t.Fatalf("ParseExplicitChannel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseExplicitChannel("kiosk"); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("err = %v; want ErrInvalidChannel", err)
	}
}

// TestCanonicalHeader maps aliases and keeps unknown columns normalized.
func TestCanonicalHeader(t *testing.T) {
	t.Parallel()
	got := CanonicalHeader([]string{"Transaction ID", "Qty", "Store Manager"})
	want := []string{"transaction_id", "total_items", "store_manager"}
	assert.Equal(t, want, got)
}
