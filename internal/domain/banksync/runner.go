package banksync

import (
	"context"
	"fmt"
	"log"
	"time"

	"bankbridge/internal/domain/reconciliation"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	runTracer     = otel.Tracer("bankbridge/banksync")
	runMeter      = otel.Meter("bankbridge/banksync")
	runTotal, _   = runMeter.Int64Counter("banksync.job.total", metric.WithDescription("Sync jobs finalized by type and status"))
	runRecords, _ = runMeter.Int64Counter("banksync.records.total", metric.WithDescription("Records processed by job type and outcome"))
)

type TransactionSyncer interface {
	SyncTransactions(ctx context.Context, tenantID string) (*SyncResult, error)
}

type AccountSyncer interface {
	SyncAccounts(ctx context.Context, tenantID string) (*SyncResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) (*reconciliation.Result, error)
}

// Runner executes one job type for one tenant and records the run as a
// SyncJob.
type Runner struct {
	jobs         *JobRepository
	transactions TransactionSyncer
	accounts     AccountSyncer
	reconciler   Reconciler
	now          func() time.Time
}

func NewRunner(jobs *JobRepository, transactions TransactionSyncer, accounts AccountSyncer, reconciler Reconciler) *Runner {
	return &Runner{
		jobs:         jobs,
		transactions: transactions,
		accounts:     accounts,
		reconciler:   reconciler,
		now:          time.Now,
	}
}

// Run creates the job as started, executes it and finalizes it exactly once.
// The returned error is the execution failure, if any; the job is returned
// either way once it was created.
func (r *Runner) Run(ctx context.Context, jobType JobType, tenantID string) (*SyncJob, error) {
	ctx, span := runTracer.Start(ctx, "banksync.run",
		trace.WithAttributes(
			attribute.String("job.type", string(jobType)),
			attribute.String("tenant.id", tenantID),
		),
	)
	defer span.End()

	job := NewSyncJob(tenantID, jobType, r.now())
	if err := r.jobs.Create(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	counts, runErr := r.execute(ctx, jobType, tenantID)
	if runErr != nil {
		_ = job.Fail(runErr, counts, r.now())
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Printf("Tenant %s: %s job %s failed: %v", tenantID, jobType, job.ID, runErr)
	} else {
		_ = job.Complete(counts, r.now())
	}

	// The run's context may be cancelled or past its deadline by now; the
	// final state is written regardless.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.jobs.Save(saveCtx, job); err != nil {
		log.Printf("Tenant %s: failed to finalize %s job %s: %v", tenantID, jobType, job.ID, err)
	}

	attrs := metric.WithAttributes(attribute.String("job_type", string(jobType)), attribute.String("status", string(job.Status)))
	runTotal.Add(ctx, 1, attrs)
	r.recordCounts(ctx, jobType, counts)

	return job, runErr
}

// RunAll runs jobType for every tenant in order. A tenant failure is
// recorded on its job and never stops the remaining tenants.
func (r *Runner) RunAll(ctx context.Context, jobType JobType, tenantIDs []string) []*SyncJob {
	jobs := make([]*SyncJob, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			log.Printf("Runner: %s run stopped before tenant %s: %v", jobType, tenantID, ctx.Err())
			break
		}
		job, err := r.Run(ctx, jobType, tenantID)
		if job == nil {
			log.Printf("Runner: could not start %s job for tenant %s: %v", jobType, tenantID, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (r *Runner) execute(ctx context.Context, jobType JobType, tenantID string) (Counts, error) {
	switch jobType {
	case JobTransactions:
		result, err := r.transactions.SyncTransactions(ctx, tenantID)
		return resultCounts(result), err
	case JobAccounts:
		result, err := r.accounts.SyncAccounts(ctx, tenantID)
		return resultCounts(result), err
	case JobReconciliation:
		result, err := r.reconciler.Reconcile(ctx, tenantID)
		if result == nil {
			return Counts{}, err
		}
		return Counts{
			Synced:  result.Matched,
			Failed:  len(result.Errors),
			Skipped: result.Unmatched,
		}, err
	default:
		return Counts{}, fmt.Errorf("unknown job type %q", jobType)
	}
}

func (r *Runner) recordCounts(ctx context.Context, jobType JobType, c Counts) {
	for outcome, n := range map[string]int{"synced": c.Synced, "failed": c.Failed, "skipped": c.Skipped} {
		if n > 0 {
			runRecords.Add(ctx, int64(n), metric.WithAttributes(
				attribute.String("job_type", string(jobType)),
				attribute.String("outcome", outcome),
			))
		}
	}
}

func resultCounts(result *SyncResult) Counts {
	if result == nil {
		return Counts{}
	}
	return result.Counts()
}
