package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bankbridge/internal/domain/banksync"
)

// ErrInFlight is returned by TriggerNow when the same job is already
// queued or running for the tenant.
var ErrInFlight = errors.New("job already in flight")

// ScheduleTime is a time of day.
type ScheduleTime struct {
	Hour   int
	Minute int
}

func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// entry is one scheduled job type. Exactly one of interval and daily is set.
type entry struct {
	jobType  banksync.JobType
	interval time.Duration
	daily    *ScheduleTime

	lastRun  time.Time
	lastDate string
}

// due reports whether the entry should fire at now and records the run.
// tolerance absorbs ticker jitter.
func (e *entry) due(now time.Time, tolerance time.Duration) bool {
	if e.daily != nil {
		date := now.Format("2006-01-02")
		if e.lastDate == date {
			return false
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), e.daily.Hour, e.daily.Minute, 0, 0, now.Location())
		if now.Before(at) || !now.Before(at.Add(2*tolerance)) {
			return false
		}
		e.lastDate = date
		return true
	}

	if now.Sub(e.lastRun) < e.interval-tolerance {
		return false
	}
	e.lastRun = now
	return true
}

func (e *entry) String() string {
	if e.daily != nil {
		return fmt.Sprintf("%s daily at %s", e.jobType, e.daily)
	}
	return fmt.Sprintf("%s every %v", e.jobType, e.interval)
}

// Config holds configuration for the scheduler. A zero interval disables
// that job; a nil ReconciliationTime disables reconciliation.
type Config struct {
	TransactionInterval time.Duration
	AccountInterval     time.Duration
	ReconciliationTime  *ScheduleTime
	WorkerCount         int
	JobDelay            time.Duration
	QueueSize           int
	RunOnStartup        bool
	// TickInterval defaults to one minute.
	TickInterval time.Duration
}

// Scheduler fans each due job type out as one job per tenant into the
// worker pool. A (job type, tenant) pair is never queued twice.
type Scheduler struct {
	workerPool   *WorkerPool
	runner       JobRunner
	tenants      func() []string
	runOnStartup bool
	tick         time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	entriesMu sync.Mutex
	entries   []*entry

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewScheduler creates a scheduler. tenants is consulted on every fan-out.
func NewScheduler(config Config, runner JobRunner, tenants func() []string) (*Scheduler, error) {
	if runner == nil || tenants == nil {
		return nil, fmt.Errorf("scheduler needs a job runner and a tenant source")
	}

	var entries []*entry
	if config.TransactionInterval > 0 {
		entries = append(entries, &entry{jobType: banksync.JobTransactions, interval: config.TransactionInterval})
	}
	if config.AccountInterval > 0 {
		entries = append(entries, &entry{jobType: banksync.JobAccounts, interval: config.AccountInterval})
	}
	if config.ReconciliationTime != nil {
		st := *config.ReconciliationTime
		entries = append(entries, &entry{jobType: banksync.JobReconciliation, daily: &st})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one scheduled job is required")
	}

	tick := config.TickInterval
	if tick <= 0 {
		tick = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	for _, e := range entries {
		log.Printf("Scheduler: %s", e)
	}
	log.Printf("Worker pool: %d workers, %v delay between jobs", config.WorkerCount, config.JobDelay)

	return &Scheduler{
		workerPool:   NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize),
		runner:       runner,
		tenants:      tenants,
		entries:      entries,
		runOnStartup: config.RunOnStartup,
		tick:         tick,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		inFlight:     make(map[string]bool),
	}, nil
}

// Start launches the worker pool and the scheduling loop. Interval jobs
// first fire one interval after Start unless RunOnStartup is set.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.workerPool.Start()

	start := s.now()
	s.entriesMu.Lock()
	for _, e := range s.entries {
		e.lastRun = start
	}
	s.entriesMu.Unlock()

	if s.runOnStartup {
		log.Println("Scheduler: Running every job on startup")
		for _, jobType := range s.jobTypes() {
			s.fanOut(jobType)
		}
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Println("Scheduler started")
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler loop: Context cancelled, shutting down")
			return

		case <-ticker.C:
			s.runDue(s.now())
		}
	}
}

// runDue fans out every entry due at now.
func (s *Scheduler) runDue(now time.Time) {
	var due []banksync.JobType
	s.entriesMu.Lock()
	for _, e := range s.entries {
		if e.due(now, s.tick/2) {
			due = append(due, e.jobType)
		}
	}
	s.entriesMu.Unlock()

	for _, jobType := range due {
		log.Printf("Scheduler: %s triggered at %s", jobType, now.Format("15:04"))
		s.fanOut(jobType)
	}
}

func (s *Scheduler) jobTypes() []banksync.JobType {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	types := make([]banksync.JobType, 0, len(s.entries))
	for _, e := range s.entries {
		types = append(types, e.jobType)
	}
	return types
}

func (s *Scheduler) fanOut(jobType banksync.JobType) {
	tenants := s.tenants()
	if len(tenants) == 0 {
		log.Printf("Scheduler: No tenants for %s", jobType)
		return
	}

	submitted := 0
	for _, tenantID := range tenants {
		if err := s.submit(jobType, tenantID); err != nil {
			if !errors.Is(err, ErrInFlight) {
				log.Printf("Scheduler: Failed to submit %s for tenant %s: %v", jobType, tenantID, err)
			}
			continue
		}
		submitted++
	}
	log.Printf("Scheduler: Submitted %d/%d %s jobs", submitted, len(tenants), jobType)
}

func (s *Scheduler) submit(jobType banksync.JobType, tenantID string) error {
	key := string(jobType) + "/" + tenantID

	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return ErrInFlight
	}
	s.inFlight[key] = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}

	if err := s.workerPool.Submit(NewTenantJob(jobType, tenantID, s.runner, release)); err != nil {
		release()
		return err
	}
	return nil
}

// TriggerNow queues jobType for one tenant outside its schedule.
func (s *Scheduler) TriggerNow(jobType banksync.JobType, tenantID string) error {
	log.Printf("Scheduler: Manual trigger of %s for tenant %s", jobType, tenantID)
	return s.submit(jobType, tenantID)
}

// TriggerAccountSync queues an account sync for the tenant. A sync already
// in flight satisfies the request.
func (s *Scheduler) TriggerAccountSync(tenantID string) error {
	err := s.TriggerNow(banksync.JobAccounts, tenantID)
	if errors.Is(err, ErrInFlight) {
		return nil
	}
	return err
}

// Shutdown stops the loop, then drains the worker pool within timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()
	s.wg.Wait()

	s.workerPool.ShutdownWithTimeout(timeout)

	log.Println("Scheduler: Shutdown complete")
}

// NextRun returns when jobType fires next, or the zero time if it is not
// scheduled.
func (s *Scheduler) NextRun(jobType banksync.JobType) time.Time {
	now := s.now()
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	for _, e := range s.entries {
		if e.jobType != jobType {
			continue
		}
		if e.daily == nil {
			return e.lastRun.Add(e.interval)
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), e.daily.Hour, e.daily.Minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at
	}
	return time.Time{}
}
