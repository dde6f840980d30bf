package ddl

import (
	"context"
	"strings"
	"testing"

	gddl "salesetl/internal/ddl"
)

// fakeRepository is a test double for Execer used to verify EnsureTable
// behavior without hitting a real database.
type fakeRepository struct {
	execCalls int
	lastSQL   string
	err       error
}

func (f *fakeRepository) Exec(ctx context.Context, sql string) error {
	f.execCalls++
	f.lastSQL = sql
	return f.err
}

// TestEnsureTableExecutesSQL verifies that EnsureTable creates the run table
// and then its index through the repository's Exec method.
func TestEnsureTableExecutesSQL(t *testing.T) {
	t.Parallel()

	var repo fakeRepository
	ctx := context.Background()

	if err := EnsureTable(ctx, &repo, gddl.RunsTable); err != nil {
		t.Fatalf("EnsureTable() error = %v", err)
	}

	if want := 1 + len(gddl.RunsTable.Indexes); repo.execCalls != want {
		t.Fatalf("repo.Exec called %d times, want %d", repo.execCalls, want)
	}
	want := `CREATE INDEX IF NOT EXISTS "ix_pipeline_runs_started" ON "pipeline_runs" ("started_at");`
	if repo.lastSQL != want {
		t.Fatalf("last statement = %q, want %q", repo.lastSQL, want)
	}
}

// TestEnsureTablePropagatesBuildError verifies that EnsureTable propagates
// BuildCreateTableSQL errors and does not call Exec.
func TestEnsureTablePropagatesBuildError(t *testing.T) {
	t.Parallel()

	def := gddl.RunsTable
	def.FQN = "" // triggers BuildCreateTableSQL error

	var repo fakeRepository
	ctx := context.Background()

	err := EnsureTable(ctx, &repo, def)
	if err == nil {
		t.Fatalf("EnsureTable() error = nil, want non-nil")
	}
	if repo.execCalls != 0 {
		t.Fatalf("repo.Exec called %d times, want 0 when build fails", repo.execCalls)
	}
}

// TestEnsureWarehouse verifies every warehouse table and index is created in
// declaration order with SQLite quoting.
func TestEnsureWarehouse(t *testing.T) {
	t.Parallel()

	rec := &recordingExecer{}
	if err := EnsureWarehouse(context.Background(), rec); err != nil {
		t.Fatalf("EnsureWarehouse() error = %v", err)
	}
	if len(rec.stmts) < 9 {
		t.Fatalf("got %d statements, want at least 9", len(rec.stmts))
	}
	if !strings.HasPrefix(rec.stmts[0], `CREATE TABLE IF NOT EXISTS "dim_products" (`) {
		t.Fatalf("first statement = %q", rec.stmts[0])
	}
	joined := strings.Join(rec.stmts, "\n")
	for _, want := range []string{
		`"product_id" INTEGER,`,
		`"unit_price" NUMERIC`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "ux_dim_customers_current" ON "dim_customers" ("customer_code") WHERE is_current;`,
		`"transaction_id" INTEGER NOT NULL UNIQUE`,
		`"loaded_at" TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP`,
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in:\n%s", want, joined)
		}
	}
}

type recordingExecer struct{ stmts []string }

func (r *recordingExecer) Exec(_ context.Context, sql string) error {
	r.stmts = append(r.stmts, sql)
	return nil
}
