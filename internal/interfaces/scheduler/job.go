package scheduler

import (
	"context"
	"fmt"

	"bankbridge/internal/domain/banksync"
)

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. ctx carries the per-job timeout.
	Execute(ctx context.Context) error

	// TenantID returns the tenant the job works for, used in logs and spans.
	TenantID() string

	Description() string
}

// JobRunner runs one job type for one tenant.
type JobRunner interface {
	Run(ctx context.Context, jobType banksync.JobType, tenantID string) (*banksync.SyncJob, error)
}

// TenantJob runs one job type for one tenant through a JobRunner.
type TenantJob struct {
	jobType  banksync.JobType
	tenantID string
	runner   JobRunner
	done     func()
}

// NewTenantJob creates a job. done, if set, is called once the run ends.
func NewTenantJob(jobType banksync.JobType, tenantID string, runner JobRunner, done func()) *TenantJob {
	return &TenantJob{
		jobType:  jobType,
		tenantID: tenantID,
		runner:   runner,
		done:     done,
	}
}

func (j *TenantJob) Execute(ctx context.Context) error {
	if j.done != nil {
		defer j.done()
	}

	job, err := j.runner.Run(ctx, j.jobType, j.tenantID)
	if err != nil {
		return fmt.Errorf("%s sync failed: %w", j.jobType, err)
	}
	if job != nil && job.RecordsFailed > 0 {
		return fmt.Errorf("%s sync completed with %d failed records", j.jobType, job.RecordsFailed)
	}
	return nil
}

func (j *TenantJob) TenantID() string {
	return j.tenantID
}

func (j *TenantJob) Description() string {
	return fmt.Sprintf("%s sync for tenant %s", j.jobType, j.tenantID)
}
