package pipeline

import (
	"log"
	"sort"
	"sync"
)

// reasonAgg counts rejection reasons and keeps the first few examples.
type reasonAgg struct {
	mu      sync.Mutex
	limit   int
	count   int64
	first   []string
	buckets map[string]int64
}

func newReasonAgg(limit int) *reasonAgg {
	return &reasonAgg{limit: limit, buckets: make(map[string]int64)}
}

func (a *reasonAgg) add(msg string, n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buckets[msg] += n
	if len(a.first) < a.limit {
		a.first = append(a.first, msg)
	}
	a.count += n
}

// ReasonCount is one bucket of rejection reasons.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// top returns the n most frequent reasons, ties broken by reason.
func (a *reasonAgg) top(n int) []ReasonCount {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ReasonCount, 0, len(a.buckets))
	for r, c := range a.buckets {
		out = append(out, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (a *reasonAgg) log(job string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return
	}
	log.Printf("pipeline: job=%s rejections=%d (showing first %d)", job, a.count, len(a.first))
	for i, s := range a.first {
		log.Printf("  #%03d: %s", i+1, s)
	}
}
