// Package runs tracks the lifecycle of pipeline runs (RUNNING → SUCCESS or
// FAILED), retries transient store failures and records the header layout of
// ingested files.
//
// Run bookkeeping is best-effort: a missing pipeline_runs table is
// provisioned on Start and silently skipped on Complete/Fail.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"salesetl/internal/auth"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// Stats are the final counts of a run.
type Stats struct {
	Processed int64
	Succeeded int64
	Failed    int64
	Metadata  map[string]any
}

// Tracker persists runs in a storage.RunStore.
type Tracker struct {
	store storage.RunStore
	now   func() time.Time
}

// NewTracker returns a Tracker over s.
func NewTracker(s storage.RunStore) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// Start inserts a RUNNING run and returns it with its id. The metadata gets a
// run_key correlating logs and metrics with the row.
func (t *Tracker) Start(ctx context.Context, pipeline, runType string, metadata map[string]any) (*schema.PipelineRun, error) {
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if _, ok := meta["run_key"]; !ok {
		meta["run_key"] = uuid.NewString()
	}
	run := &schema.PipelineRun{
		PipelineName: pipeline,
		RunType:      runType,
		Status:       schema.RunRunning,
		StartedAt:    t.now().UTC(),
		Metadata:     meta,
	}

	id, err := t.store.InsertRun(ctx, *run)
	if errors.Is(err, storage.ErrTableMissing) {
		log.Printf("runs: pipeline_runs missing, creating")
		if cerr := t.store.CreateRunTable(ctx); cerr != nil {
			return nil, fmt.Errorf("create run table: %w", cerr)
		}
		id, err = t.store.InsertRun(ctx, *run)
	}
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	run.ID = id
	log.Printf("runs: started run=%d pipeline=%s type=%s key=%v", id, pipeline, runType, meta["run_key"])
	return run, nil
}

// Complete moves run to SUCCESS with the final stats.
func (t *Tracker) Complete(ctx context.Context, run *schema.PipelineRun, st Stats) error {
	run.Status = schema.RunSuccess
	return t.finish(ctx, run, st)
}

// Fail moves run to FAILED recording cause. Counts gathered so far are kept.
func (t *Tracker) Fail(ctx context.Context, run *schema.PipelineRun, st Stats, cause error) error {
	run.Status = schema.RunFailed
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	return t.finish(ctx, run, st)
}

func (t *Tracker) finish(ctx context.Context, run *schema.PipelineRun, st Stats) error {
	run.Processed, run.Succeeded, run.Failed = st.Processed, st.Succeeded, st.Failed
	if run.Metadata == nil {
		run.Metadata = make(map[string]any, len(st.Metadata))
	}
	for k, v := range st.Metadata {
		run.Metadata[k] = v
	}
	done := t.now().UTC()
	run.CompletedAt = &done
	err := t.store.UpdateRun(ctx, *run)
	if errors.Is(err, storage.ErrTableMissing) {
		log.Printf("runs: pipeline_runs missing, skipping %s of run=%d", run.Status, run.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish run %d: %w", run.ID, err)
	}
	log.Printf("runs: run=%d status=%s processed=%d succeeded=%d failed=%d",
		run.ID, run.Status, run.Processed, run.Succeeded, run.Failed)
	return nil
}

// List returns the most recent runs. Requires read permission.
func (t *Tracker) List(ctx context.Context, limit int) ([]schema.PipelineRun, error) {
	if err := auth.Require(ctx, auth.PermRead); err != nil {
		return nil, err
	}
	runs, err := t.store.ListRuns(ctx, limit)
	if errors.Is(err, storage.ErrTableMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
