// Package pipeline ingests one sales extract end to end: rows are read,
// normalized, validated and transformed in file order, grouped into batches
// of valid rows and written batch by batch, each in its own transaction,
// under a tracked pipeline run.
//
// Shape (one goroutine per stage, bounded channels in between):
//
//	csv reader ──rows──▶ row processor ──items──▶ batch loader ──tx──▶ store
//
// Row processing is sequential; dimension upserts never race within a run.
// The configuration is passed into every call, so one Batch may serve
// concurrent runs with different configurations.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"salesetl/internal/auth"
	"salesetl/internal/config"
	"salesetl/internal/datasource"
	"salesetl/internal/dimension"
	"salesetl/internal/loader"
	"salesetl/internal/metrics"
	"salesetl/internal/parser/csv"
	"salesetl/internal/runs"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
	"salesetl/internal/transformer"
)

const (
	// RunTypeBatch is the run_type of file ingestions.
	RunTypeBatch = "BATCH"
	// SourceLayout is the schema_versions table name under which the header
	// layout of ingested files is registered.
	SourceLayout = "sales_extract"

	defaultBatchSize     = 1000
	defaultChannelBuffer = 256
	topReasons           = 5
	reasonExamples       = 10
	duplicateBucket      = "duplicate transaction_id in store"
	repeatBucket         = "duplicate transaction_id in batch"
)

// RunResult summarizes one run. For a completed run
// Processed == Succeeded + Failed.
type RunResult struct {
	RunID     int64
	Processed int64
	Succeeded int64
	Failed    int64
	Metadata  map[string]any
}

// Executor runs one ingestion of src.
type Executor interface {
	Execute(ctx context.Context, cfg config.Pipeline, src datasource.Source) (RunResult, error)
}

// Batch is the batch Executor.
type Batch struct {
	store   storage.Store
	tracker *runs.Tracker
	dims    *dimension.Manager
}

var _ Executor = (*Batch)(nil)

// NewBatch returns a batch executor writing to s.
func NewBatch(s storage.Store) *Batch {
	return &Batch{store: s, tracker: runs.NewTracker(s), dims: dimension.NewManager()}
}

// Execute ingests src with an inferred channel.
func (b *Batch) Execute(ctx context.Context, cfg config.Pipeline, src datasource.Source) (RunResult, error) {
	return b.ExecuteChannel(ctx, cfg, src, "")
}

// ExecuteChannel ingests src; channel may be empty to infer it.
func (b *Batch) ExecuteChannel(ctx context.Context, cfg config.Pipeline, src datasource.Source, channel string) (RunResult, error) {
	if err := auth.Require(ctx, auth.PermWrite); err != nil {
		return RunResult{}, err
	}
	if _, err := ParseExplicitChannel(channel); err != nil {
		return RunResult{}, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("open source %s: %w", src.Name(), err)
	}
	defer rc.Close()
	return b.ProcessStream(ctx, cfg, rc, src.Name(), channel)
}

// ProcessFile ingests an in-memory CSV file.
func (b *Batch) ProcessFile(ctx context.Context, cfg config.Pipeline, data []byte, filename, channel string) (RunResult, error) {
	return b.ProcessStream(ctx, cfg, bytes.NewReader(data), filename, channel)
}

// ProcessStream ingests CSV content read from r. Row-level problems become
// rejections; only store failures (after retries) fail the run. Requires
// write permission.
func (b *Batch) ProcessStream(ctx context.Context, cfg config.Pipeline, r io.Reader, filename, channel string) (RunResult, error) {
	if err := auth.Require(ctx, auth.PermWrite); err != nil {
		return RunResult{}, err
	}
	explicit, err := ParseExplicitChannel(channel)
	if err != nil {
		return RunResult{}, err
	}
	rt := runtimeDefaults(cfg.Runtime)
	job := cfg.Job

	label := autoDetected
	if explicit != "" {
		label = string(explicit)
	}
	run, err := b.tracker.Start(ctx, job, RunTypeBatch, map[string]any{"filename": filename, "channel": label})
	if err != nil {
		return RunResult{}, err
	}
	started := time.Now()

	st, runErr := b.ingest(ctx, cfg, rt, run.ID, r, filename, explicit)

	failed := st.upstreamRejected + st.duplicates + st.repeats
	stats := runs.Stats{
		Processed: st.processed,
		Succeeded: st.inserted,
		Failed:    failed,
		Metadata: map[string]any{
			"batches":               st.batches,
			"batch_size":            rt.BatchSize,
			"duplicates_in_store":   st.duplicates,
			"duplicates_in_batch":   st.repeats,
			"schema_version":        st.schemaVersion,
			"header":                st.header,
			"top_rejection_reasons": st.reasons.top(topReasons),
			"dimension_versions":    st.versions,
			"duration_ms":           time.Since(started).Milliseconds(),
		},
	}
	st.reasons.log(job)

	metrics.RecordRow(job, "processed", stats.Processed)
	metrics.RecordRow(job, "succeeded", stats.Succeeded)
	metrics.RecordRow(job, "failed", stats.Failed)
	metrics.RecordStep(job, "run", runErr, time.Since(started))

	// Bookkeeping outlives a canceled caller.
	bg := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := b.tracker.Fail(bg, run, stats, runErr); err != nil {
			log.Printf("pipeline: run=%d fail bookkeeping: %v", run.ID, err)
		}
	} else if err := b.tracker.Complete(bg, run, stats); err != nil {
		log.Printf("pipeline: run=%d complete bookkeeping: %v", run.ID, err)
	}

	res := RunResult{
		RunID:     run.ID,
		Processed: stats.Processed,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Metadata:  run.Metadata,
	}
	log.Printf("pipeline: run=%d file=%s processed=%d succeeded=%d failed=%d batches=%d duration=%s",
		run.ID, filename, res.Processed, res.Succeeded, res.Failed, st.batches, time.Since(started).Truncate(time.Millisecond))
	if runErr != nil {
		return res, fmt.Errorf("run %d: %w", run.ID, runErr)
	}
	return res, nil
}

func runtimeDefaults(rt config.RuntimeConfig) config.RuntimeConfig {
	if rt.BatchSize <= 0 {
		rt.BatchSize = defaultBatchSize
	}
	if rt.ChannelBuffer <= 0 {
		rt.ChannelBuffer = defaultChannelBuffer
	}
	if rt.MaxRetries <= 0 {
		rt.MaxRetries = 1
	}
	return rt
}

// item is one processed row: either a transformed row or a rejection.
type item struct {
	row *schema.TransformedRow
	rej *schema.RejectionRecord
}

func (it item) valid() bool { return it.row != nil }

func splitItems(items []item) loader.Batch {
	var b loader.Batch
	for _, it := range items {
		if it.row != nil {
			b.Rows = append(b.Rows, *it.row)
		} else if it.rej != nil {
			b.Rejections = append(b.Rejections, *it.rej)
		}
	}
	return b
}

type ingestStats struct {
	processed        int64
	upstreamRejected int64
	inserted         int64
	duplicates       int64
	repeats          int64
	batches          int
	header           []string
	schemaVersion    int
	versions         map[string]int64
	reasons          *reasonAgg
}

func (b *Batch) ingest(ctx context.Context, cfg config.Pipeline, rt config.RuntimeConfig, runID int64,
	r io.Reader, filename string, explicit schema.Channel) (*ingestStats, error) {
	st := &ingestStats{versions: map[string]int64{}, reasons: newReasonAgg(reasonExamples)}

	rd, err := csv.NewReader(r, csv.OptionsFrom(cfg.Parser.Options))
	if err != nil {
		return st, err
	}
	st.header = CanonicalHeader(rd.Header())
	if len(st.header) > 0 {
		v, err := b.tracker.RecordSchemaVersion(ctx, SourceLayout, st.header)
		if err != nil {
			log.Printf("pipeline: run=%d schema version: %v", runID, err)
		}
		st.schemaVersion = v
	}

	var (
		job    = cfg.Job
		ld     = loader.New(b.dims, cfg.Dimensions.Mode)
		policy = runs.PolicyFrom(rt)
		rawCh  = make(chan csv.Row, rt.ChannelBuffer)
		itemCh = make(chan item, rt.ChannelBuffer)
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rawCh)
		return csv.StreamRawRows(gctx, rd, rawCh, func(line int, err error) {
			select {
			case rawCh <- csv.Row{Line: line, Err: err}:
			case <-gctx.Done():
			}
		})
	})

	g.Go(func() error {
		defer close(itemCh)
		v := transformer.NewValidator()
		pick := newChannelPicker(explicit, filename)
		for raw := range rawCh {
			st.processed++
			var it item
			if raw.Err != nil {
				rej := schema.Reject(raw.Line, schema.CanonicalRow{}, "CSV parse error: "+raw.Err.Error())
				it.rej = &rej
			} else {
				row := transformer.Normalize(raw.Fields)
				pick.apply(row)
				out := transformer.Check(v, raw.Line, row)
				if out.Rejection != nil {
					it.rej = out.Rejection
				} else {
					tr := out.Row
					it.row = &tr
				}
			}
			if it.rej != nil {
				st.upstreamRejected++
				st.reasons.add(it.rej.Reason, 1)
			}
			select {
			case itemCh <- it:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		_, err := storage.LoadBatches(gctx, itemCh, rt.BatchSize, item.valid,
			func(ctx context.Context, n int, items []item) (int64, error) {
				batch := splitItems(items)
				t0 := time.Now()
				var res loader.Result
				err := runs.WithRetry(ctx, policy, fmt.Sprintf("load batch #%d", n), func(ctx context.Context) error {
					err := storage.WithTx(ctx, b.store, func(tx storage.Tx) error {
						var err error
						res, err = ld.LoadBatch(ctx, tx, runID, batch)
						return err
					})
					if storage.IsPermanent(err) {
						return runs.Permanent(err)
					}
					return err
				})
				metrics.RecordStep(job, "load", err, time.Since(t0))
				if err != nil {
					return 0, err
				}
				st.batches++
				st.inserted += res.Inserted
				st.duplicates += res.Duplicates
				st.repeats += res.Repeats
				for k, v := range res.Versions {
					st.versions[k] += v
				}
				st.reasons.add(duplicateBucket, res.Duplicates)
				st.reasons.add(repeatBucket, res.Repeats)
				metrics.RecordBatches(job, 1)
				return res.Inserted, nil
			})
		return err
	})

	return st, g.Wait()
}

// CanonicalHeader maps header cells to canonical field names where an alias
// matches and to their normalized spelling otherwise.
func CanonicalHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if f, ok := transformer.CanonicalField(h); ok {
			out[i] = f
			continue
		}
		out[i] = transformer.NormalizeHeader(h)
	}
	return out
}

// Bootstrap provisions the warehouse tables of cfg.Storage.Kind and seeds
// dim_time over the configured year range.
func Bootstrap(ctx context.Context, cfg config.Pipeline, s storage.Store) error {
	if err := storage.EnsureSchema(ctx, cfg.Storage.Kind, s); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	yr := cfg.Storage.DB.TimeDimension
	if yr.StartYear == 0 && yr.EndYear == 0 {
		return nil
	}
	return storage.WithTx(ctx, s, func(tx storage.Tx) error {
		_, err := dimension.SeedTimeDimension(ctx, tx, yr.StartYear, yr.EndYear)
		return err
	})
}
