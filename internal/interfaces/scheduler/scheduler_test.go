package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bankbridge/internal/domain/banksync"
)

type mockRunner struct {
	RunFunc func(ctx context.Context, jobType banksync.JobType, tenantID string) (*banksync.SyncJob, error)
}

func (m *mockRunner) Run(ctx context.Context, jobType banksync.JobType, tenantID string) (*banksync.SyncJob, error) {
	return m.RunFunc(ctx, jobType, tenantID)
}

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{"06:00", ScheduleTime{6, 0}, false},
		{"23:59", ScheduleTime{23, 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScheduleTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEntryDue_Interval(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &entry{jobType: banksync.JobTransactions, interval: 5 * time.Minute, lastRun: start}
	tolerance := 30 * time.Second

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{1 * time.Minute, false},
		{4 * time.Minute, false},
		{5*time.Minute - 20*time.Millisecond, true},
		{6 * time.Minute, false},
		{10 * time.Minute, true},
	}

	for _, step := range steps {
		if got := e.due(start.Add(step.at), tolerance); got != step.want {
			t.Errorf("due at +%v = %v, want %v", step.at, got, step.want)
		}
	}
}

func TestEntryDue_Daily(t *testing.T) {
	e := &entry{jobType: banksync.JobReconciliation, daily: &ScheduleTime{Hour: 6}}
	tolerance := 30 * time.Second
	day := func(d, h, m, s int) time.Time { return time.Date(2024, 3, d, h, m, s, 0, time.UTC) }

	if e.due(day(1, 5, 59, 59), tolerance) {
		t.Error("fired before the scheduled time")
	}
	if !e.due(day(1, 6, 0, 1), tolerance) {
		t.Error("did not fire at the scheduled time")
	}
	if e.due(day(1, 6, 0, 30), tolerance) {
		t.Error("fired twice on the same day")
	}
	if e.due(day(2, 7, 0, 0), tolerance) {
		t.Error("fired outside the window")
	}
	if !e.due(day(3, 6, 0, 50), tolerance) {
		t.Error("did not fire on the next day")
	}
}

func TestNewScheduler_RequiresEntries(t *testing.T) {
	runner := &mockRunner{}
	tenants := func() []string { return nil }

	if _, err := NewScheduler(Config{}, runner, tenants); err == nil {
		t.Error("expected error with no scheduled jobs")
	}
	if _, err := NewScheduler(Config{TransactionInterval: time.Minute}, nil, tenants); err == nil {
		t.Error("expected error with no runner")
	}
}

func TestScheduler_FansOutPerTenant(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	wg.Add(4)

	runner := &mockRunner{
		RunFunc: func(ctx context.Context, jobType banksync.JobType, tenantID string) (*banksync.SyncJob, error) {
			defer wg.Done()
			mu.Lock()
			seen[string(jobType)+"/"+tenantID]++
			mu.Unlock()
			if tenantID == "alpha" && jobType == banksync.JobTransactions {
				return nil, errors.New("network down")
			}
			return &banksync.SyncJob{Status: banksync.StatusCompleted}, nil
		},
	}

	s, err := NewScheduler(Config{
		TransactionInterval: 5 * time.Minute,
		AccountInterval:     30 * time.Minute,
		WorkerCount:         2,
		QueueSize:           10,
		RunOnStartup:        true,
		TickInterval:        time.Hour,
	}, runner, func() []string { return []string{"alpha", "beta"} })
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.Start()
	wg.Wait()
	s.Shutdown(time.Second)

	for _, key := range []string{"transactions/alpha", "transactions/beta", "accounts/alpha", "accounts/beta"} {
		if seen[key] != 1 {
			t.Errorf("%s ran %d times, want 1", key, seen[key])
		}
	}
}

func TestScheduler_InFlightNotResubmitted(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, jobType banksync.JobType, tenantID string) (*banksync.SyncJob, error) {
			started <- struct{}{}
			<-release
			return &banksync.SyncJob{}, nil
		},
	}

	s, err := NewScheduler(Config{AccountInterval: time.Hour, WorkerCount: 1, QueueSize: 5, TickInterval: time.Hour}, runner, func() []string { return []string{"acme"} })
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	defer s.Shutdown(time.Second)

	if err := s.TriggerNow(banksync.JobAccounts, "acme"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	<-started

	if err := s.TriggerNow(banksync.JobAccounts, "acme"); !errors.Is(err, ErrInFlight) {
		t.Errorf("second trigger error = %v, want ErrInFlight", err)
	}
	if err := s.TriggerAccountSync("acme"); err != nil {
		t.Errorf("TriggerAccountSync while in flight = %v, want nil", err)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.TriggerNow(banksync.JobAccounts, "acme"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never left the in-flight set")
		}
		time.Sleep(10 * time.Millisecond)
	}
	<-started
}

type panicJob struct{}

func (panicJob) Execute(ctx context.Context) error { panic("boom") }
func (panicJob) TenantID() string                  { return "acme" }
func (panicJob) Description() string               { return "panicking job" }

type funcJob struct {
	fn func(ctx context.Context) error
}

func (j funcJob) Execute(ctx context.Context) error { return j.fn(ctx) }
func (funcJob) TenantID() string                    { return "acme" }
func (funcJob) Description() string                 { return "func job" }

func TestWorkerPool_SurvivesPanicAndRejectsAfterShutdown(t *testing.T) {
	wp := NewWorkerPool(1, 0, 4)
	wp.Start()

	done := make(chan struct{})
	if err := wp.Submit(panicJob{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := wp.Submit(funcJob{fn: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context has no deadline")
		}
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panicking job")
	}

	wp.ShutdownWithTimeout(time.Second)
	if err := wp.Submit(panicJob{}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after shutdown = %v, want ErrPoolClosed", err)
	}
}

func TestWorkerPool_QueueFull(t *testing.T) {
	wp := NewWorkerPool(1, 0, 1)

	if err := wp.Submit(panicJob{}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := wp.Submit(panicJob{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Submit = %v, want ErrQueueFull", err)
	}

	wp.Start()
	wp.ShutdownWithTimeout(time.Second)
}

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	s, err := NewScheduler(Config{
		TransactionInterval: 5 * time.Minute,
		ReconciliationTime:  &ScheduleTime{Hour: 6},
	}, &mockRunner{}, func() []string { return nil })
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return now }
	s.entries[0].lastRun = now

	if got := s.NextRun(banksync.JobTransactions); !got.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("NextRun(transactions) = %v", got)
	}
	if got := s.NextRun(banksync.JobReconciliation); !got.Equal(time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("NextRun(reconciliation) = %v", got)
	}
	if got := s.NextRun(banksync.JobAccounts); !got.IsZero() {
		t.Errorf("NextRun(accounts) = %v, want zero", got)
	}
}
