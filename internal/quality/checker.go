// Package quality scores the loaded fact data of a trailing window on four
// checks (completeness, validity, consistency, accuracy) and persists one
// metric row per check.
package quality

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"salesetl/internal/auth"
	"salesetl/internal/metrics"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// Check types.
const (
	Completeness = "completeness"
	Validity     = "validity"
	Consistency  = "consistency"
	Accuracy     = "accuracy"
)

// FactTable is the table every check scores.
const FactTable = "fact_sales"

// DefaultWindowDays is used when the checker is built with a non-positive window.
const DefaultWindowDays = 7

// check is one scoring query and its pass threshold.
type check struct {
	name      string
	threshold float64
	counts    func(storage.QualityStore, context.Context, storage.Window) (storage.CheckCounts, error)
}

var checks = []check{
	{Completeness, 95, storage.QualityStore.CompletenessCounts},
	{Validity, 98, storage.QualityStore.ValidityCounts},
	{Consistency, 99, storage.QualityStore.ConsistencyCounts},
	{Accuracy, 99.9, storage.QualityStore.AccuracyCounts},
}

// Thresholds returns the pass threshold of every check.
func Thresholds() map[string]float64 {
	out := make(map[string]float64, len(checks))
	for _, c := range checks {
		out[c.name] = c.threshold
	}
	return out
}

// Report is the outcome of one checker run.
type Report struct {
	CheckDate time.Time
	Window    storage.Window
	Metrics   []schema.DataQualityMetric
	Status    schema.CheckStatus
}

// Checker runs the checks against a store.
type Checker struct {
	store      storage.QualityStore
	windowDays int
	now        func() time.Time
}

// NewChecker returns a Checker scoring the trailing windowDays days.
func NewChecker(s storage.QualityStore, windowDays int) *Checker {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Checker{store: s, windowDays: windowDays, now: time.Now}
}

// Score is the percentage of passing rows, clamped to [0, 100]. An empty
// window scores 100.
func Score(c storage.CheckCounts) float64 {
	if c.Total <= 0 {
		return 100
	}
	s := float64(c.Total-c.Failing) / float64(c.Total) * 100
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

// Verdict compares score with threshold.
func Verdict(score, threshold float64) schema.CheckStatus {
	if score >= threshold {
		return schema.CheckPass
	}
	return schema.CheckFail
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Run scores the window, persists the metrics and returns the report. The
// overall status is PASS only if every check passes. Requires write
// permission.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	if err := auth.Require(ctx, auth.PermWrite); err != nil {
		return Report{}, err
	}
	now := c.now().UTC().Truncate(time.Second)
	today := startOfDay(now)
	w := storage.Window{Since: today.AddDate(0, 0, -c.windowDays), Now: now}

	counts := make([]storage.CheckCounts, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range checks {
		i, ch := i, ch
		g.Go(func() error {
			cc, err := ch.counts(c.store, gctx, w)
			if err != nil {
				return fmt.Errorf("%s check: %w", ch.name, err)
			}
			counts[i] = cc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{CheckDate: today, Window: w, Status: schema.CheckPass}
	for i, ch := range checks {
		score := Score(counts[i])
		details := make(map[string]int64, len(counts[i].Details)+1)
		for k, v := range counts[i].Details {
			details[k] = v
		}
		details["total_rows"] = counts[i].Total
		m := schema.DataQualityMetric{
			CheckDate:  today,
			CheckType:  ch.name,
			TableName:  FactTable,
			MetricName: ch.name + "_score",
			Value:      score,
			Threshold:  ch.threshold,
			Status:     Verdict(score, ch.threshold),
			Details:    details,
			CreatedAt:  now,
		}
		if m.Status == schema.CheckFail {
			rep.Status = schema.CheckFail
		}
		rep.Metrics = append(rep.Metrics, m)
	}

	if err := c.store.InsertQualityMetrics(ctx, rep.Metrics); err != nil {
		return rep, fmt.Errorf("persist quality metrics: %w", err)
	}
	for _, m := range rep.Metrics {
		metrics.RecordScore(m.CheckType, m.Value)
		log.Printf("quality: %s score=%.2f threshold=%.1f status=%s total=%d",
			m.CheckType, m.Value, m.Threshold, m.Status, m.Details["total_rows"])
	}
	log.Printf("quality: overall=%s since=%s", rep.Status, w.Since.Format(schema.DateLayout))
	return rep, nil
}

// Metrics returns the persisted metrics of the trailing days days, most
// recent check date first. Requires read permission.
func (c *Checker) Metrics(ctx context.Context, days int) ([]schema.DataQualityMetric, error) {
	if err := auth.Require(ctx, auth.PermRead); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultWindowDays
	}
	since := startOfDay(c.now()).AddDate(0, 0, -days)
	ms, err := c.store.ListQualityMetrics(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list quality metrics: %w", err)
	}
	return ms, nil
}
