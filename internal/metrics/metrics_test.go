package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	callsCounters   []counterCall
	callsHistograms []histCall
	callsGauges     []histCall
	flushCount      int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsCounters = append(f.callsCounters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsHistograms = append(f.callsHistograms, histCall{name, value, labels})
}

func (f *fakeBackend) SetGauge(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsGauges = append(f.callsGauges, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func install(t *testing.T) *fakeBackend {
	t.Helper()
	orig := current()
	t.Cleanup(func() { SetBackend(orig) })
	fb := &fakeBackend{}
	SetBackend(fb)
	return fb
}

func TestRecordStep_SuccessAndFailure(t *testing.T) {
	fb := install(t)

	RecordStep("jobA", "extract", nil, 2*time.Second)
	RecordStep("jobB", "load", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.callsCounters) != 2 {
		t.Fatalf("expected 2 counter calls, got %d", len(fb.callsCounters))
	}
	if len(fb.callsHistograms) != 2 {
		t.Fatalf("expected 2 histogram calls, got %d", len(fb.callsHistograms))
	}

	cc0 := fb.callsCounters[0]
	if cc0.name != "etl_step_total" || cc0.delta != 1 {
		t.Fatalf("counter[0] = %#v; want name=etl_step_total, delta=1", cc0)
	}
	if cc0.labels["job"] != "jobA" || cc0.labels["step"] != "extract" || cc0.labels["status"] != "success" {
		t.Fatalf("counter[0].labels = %v; want jobA/extract/success", cc0.labels)
	}

	h0 := fb.callsHistograms[0]
	if h0.name != "etl_step_duration_seconds" {
		t.Fatalf("hist[0].name=%q; want etl_step_duration_seconds", h0.name)
	}
	if h0.value < 2.0-0.001 || h0.value > 2.0+0.001 {
		t.Fatalf("hist[0].value=%v; want ~2.0", h0.value)
	}

	cc1 := fb.callsCounters[1]
	if cc1.labels["status"] != "failure" {
		t.Fatalf("counter[1].labels[status]=%q; want %q", cc1.labels["status"], "failure")
	}
	if h1 := fb.callsHistograms[1]; h1.value < 1.5-0.001 || h1.value > 1.5+0.001 {
		t.Fatalf("hist[1].value=%v; want ~1.5", h1.value)
	}
}

func TestRecordRowAndBatches(t *testing.T) {
	fb := install(t)

	RecordRow("jobX", "processed", 3)
	RecordRow("jobX", "processed", 0) // ignored
	RecordRow("jobY", "loaded", 5)
	RecordBatches("jobZ", 2)
	RecordBatches("jobZ", 0) // ignored

	if len(fb.callsCounters) != 3 {
		t.Fatalf("expected 3 counter calls, got %d", len(fb.callsCounters))
	}

	c0 := fb.callsCounters[0]
	if c0.name != "etl_records_total" || c0.delta != 3 || c0.labels["kind"] != "processed" {
		t.Fatalf("counter[0] = %#v; want etl_records_total/3/processed", c0)
	}
	c1 := fb.callsCounters[1]
	if c1.labels["job"] != "jobY" || c1.labels["kind"] != "loaded" {
		t.Fatalf("counter[1] labels = %v; want job=jobY, kind=loaded", c1.labels)
	}
	c2 := fb.callsCounters[2]
	if c2.name != "etl_batches_total" || c2.delta != 2 || c2.labels["job"] != "jobZ" {
		t.Fatalf("counter[2] = %#v; want etl_batches_total/2/jobZ", c2)
	}
}

func TestRecordRetryAndScore(t *testing.T) {
	fb := install(t)

	RecordRetry("load batch")
	RecordScore("completeness", 97.5)

	if len(fb.callsCounters) != 1 || fb.callsCounters[0].name != "etl_retries_total" {
		t.Fatalf("counters = %#v; want one etl_retries_total", fb.callsCounters)
	}
	if got := fb.callsCounters[0].labels["operation"]; got != "load batch" {
		t.Fatalf("operation label = %q; want %q", got, "load batch")
	}
	if len(fb.callsGauges) != 1 {
		t.Fatalf("expected 1 gauge call, got %d", len(fb.callsGauges))
	}
	g := fb.callsGauges[0]
	if g.name != "etl_dq_score" || g.value != 97.5 || g.labels["check"] != "completeness" {
		t.Fatalf("gauge = %#v; want etl_dq_score/97.5/completeness", g)
	}
}

func TestSetBackendAndFlush(t *testing.T) {
	fb := install(t)

	if current() != fb {
		t.Fatal("SetBackend did not replace global backend")
	}
	if err := Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("expected flushCount=1, got %d", fb.flushCount)
	}

	SetBackend(nil)
	if current() != fb {
		t.Fatal("SetBackend(nil) should not change backend")
	}
}
