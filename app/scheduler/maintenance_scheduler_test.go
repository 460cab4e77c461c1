package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kakehashi/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApprover struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeApprover) ApproveDue(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	return 1, f.err
}

func (f *fakeApprover) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeReconciler struct {
	days []time.Time
}

func (f *fakeReconciler) ReconcileDay(_ context.Context, day time.Time) (int, error) {
	f.days = append(f.days, day)
	return 0, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRunReconcileTargetsYesterdayInReferenceZone(t *testing.T) {
	tehran, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)

	rec := &fakeReconciler{}
	s := NewMaintenanceScheduler(nil, rec, config.SchedulerConfig{}, tehran, quietLogger())
	// 21:00 UTC is already the next day in Tehran
	s.now = func() time.Time { return time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC) }

	s.RunReconcile(context.Background())
	require.Len(t, rec.days, 1)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, tehran), rec.days[0])
}

func TestRunAutoApprovalPassesClock(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	approver := &fakeApprover{err: errors.New("db down")}
	s := NewMaintenanceScheduler(approver, nil, config.SchedulerConfig{}, nil, quietLogger())
	s.now = func() time.Time { return now }

	assert.NotPanics(t, func() { s.RunAutoApproval(context.Background()) })
	assert.Equal(t, []time.Time{now}, approver.calls)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeApprover{}, nil, config.SchedulerConfig{
		AutoApprovalEnabled: true,
		AutoApprovalSpec:    "every now and then",
	}, nil, quietLogger())

	_, err := s.Start(context.Background())
	assert.Error(t, err)
}

func TestStartRunsEnabledJobs(t *testing.T) {
	approver := &fakeApprover{}
	s := NewMaintenanceScheduler(approver, &fakeReconciler{}, config.SchedulerConfig{
		AutoApprovalEnabled: true,
		AutoApprovalSpec:    "@every 1s",
		ReconcileEnabled:    false,
		ReconcileSpec:       "not parsed when disabled",
	}, nil, quietLogger())

	stop, err := s.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return approver.Calls() >= 1 }, 3*time.Second, 20*time.Millisecond)
	stop()

	after := approver.Calls()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, approver.Calls(), "no runs after stop")
}
