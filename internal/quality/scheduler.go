package quality

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"salesetl/internal/auth"
)

// DefaultSchedule runs the checks once a day at midnight.
const DefaultSchedule = "@daily"

// Scheduler runs a Checker on a cron schedule as the system identity.
type Scheduler struct {
	cron    *cron.Cron
	checker *Checker
	// OnReport, when set, receives every completed report.
	OnReport func(Report)
}

// NewScheduler registers c under spec (standard 5-field cron or a
// descriptor such as @daily).
func NewScheduler(c *Checker, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	s := &Scheduler{cron: cron.New(), checker: c}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("quality schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx := auth.WithIdentity(context.Background(), auth.System())
	rep, err := s.checker.Run(ctx)
	if err != nil {
		log.Printf("scheduler: quality run failed: %v", err)
		return
	}
	if s.OnReport != nil {
		s.OnReport(rep)
	}
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running check to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	log.Printf("scheduler: started entries=%d", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Printf("scheduler: stopped")
	return nil
}
