// Package scheduler runs the periodic maintenance jobs of the marketplace
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kakehashi/config"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 5 * time.Minute

// AutoApprover approves applications whose auto-approval time has passed
type AutoApprover interface {
	ApproveDue(ctx context.Context, now time.Time) (int, error)
}

// Reconciler recomputes one day of analytics from the raw click log
type Reconciler interface {
	ReconcileDay(ctx context.Context, day time.Time) (int, error)
}

// MaintenanceScheduler drives auto-approval and the nightly analytics reconcile
type MaintenanceScheduler struct {
	approver   AutoApprover
	reconciler Reconciler
	cfg        config.SchedulerConfig
	loc        *time.Location
	logger     *log.Logger
	timeout    time.Duration
	now        func() time.Time

	cron *cron.Cron
}

func NewMaintenanceScheduler(
	approver AutoApprover,
	reconciler Reconciler,
	cfg config.SchedulerConfig,
	loc *time.Location,
	logger *log.Logger,
) *MaintenanceScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = utils.NewComponentLogger("scheduler")
	}
	return &MaintenanceScheduler{
		approver:   approver,
		reconciler: reconciler,
		cfg:        cfg,
		loc:        loc,
		logger:     logger,
		timeout:    defaultJobTimeout,
		now:        utils.UTCNow,
	}
}

// Start registers the enabled jobs and returns a stop function that waits for running jobs
func (s *MaintenanceScheduler) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)

	// a slow run is skipped rather than stacked
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.logger)), cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))),
	)

	if s.cfg.AutoApprovalEnabled && s.approver != nil {
		if _, err := s.cron.AddFunc(s.cfg.AutoApprovalSpec, func() { s.RunAutoApproval(ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid auto-approval schedule %q: %w", s.cfg.AutoApprovalSpec, err)
		}
		s.logger.Printf("scheduler: auto-approval scheduled %q", s.cfg.AutoApprovalSpec)
	}
	if s.cfg.ReconcileEnabled && s.reconciler != nil {
		if _, err := s.cron.AddFunc(s.cfg.ReconcileSpec, func() { s.RunReconcile(ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid reconcile schedule %q: %w", s.cfg.ReconcileSpec, err)
		}
		s.logger.Printf("scheduler: reconcile scheduled %q", s.cfg.ReconcileSpec)
	}

	s.cron.Start()
	return func() {
		cancel()
		<-s.cron.Stop().Done()
	}, nil
}

// RunAutoApproval approves every due application once
func (s *MaintenanceScheduler) RunAutoApproval(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	started := time.Now()
	n, err := s.approver.ApproveDue(ctx, s.now())
	if err != nil {
		s.logger.Printf("scheduler: auto-approval failed after %d approvals: %v", n, err)
		return
	}
	if n > 0 {
		s.logger.Printf("scheduler: auto-approved %d applications in %s", n, time.Since(started))
	}
}

// RunReconcile rebuilds yesterday's rollup in the reference timezone
func (s *MaintenanceScheduler) RunReconcile(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	yesterday := utils.DayBucket(s.now(), s.loc).AddDate(0, 0, -1)
	n, err := s.reconciler.ReconcileDay(ctx, yesterday)
	if err != nil {
		s.logger.Printf("scheduler: reconcile of %s failed after %d repairs: %v", yesterday.Format(time.DateOnly), n, err)
		return
	}
	s.logger.Printf("scheduler: reconcile of %s repaired %d applications", yesterday.Format(time.DateOnly), n)
}
