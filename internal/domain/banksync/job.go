// Package banksync pulls accounts and transactions from the bank API into
// the document store and records every run as a SyncJob.
package banksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankbridge/internal/domain/store"

	"github.com/google/uuid"
)

// ErrAlreadyFinalized is returned when a job that already completed or
// failed is finalized again.
var ErrAlreadyFinalized = errors.New("sync job already finalized")

type JobType string

const (
	JobTransactions   JobType = "transactions"
	JobAccounts       JobType = "accounts"
	JobReconciliation JobType = "reconciliation"
)

// JobTypes lists every job type in scheduling order.
var JobTypes = []JobType{JobTransactions, JobAccounts, JobReconciliation}

func ParseJobType(s string) (JobType, error) {
	for _, t := range JobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

type JobStatus string

const (
	StatusStarted   JobStatus = "started"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Counts are the per-record totals a job finishes with.
type Counts struct {
	Synced  int
	Failed  int
	Skipped int
}

type SyncJob struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	JobType        JobType    `json:"job_type"`
	Status         JobStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RecordsSynced  int        `json:"records_synced"`
	RecordsFailed  int        `json:"records_failed"`
	RecordsSkipped int        `json:"records_skipped"`
	Error          string     `json:"error,omitempty"`
}

func NewSyncJob(tenantID string, jobType JobType, now time.Time) *SyncJob {
	return &SyncJob{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		JobType:   jobType,
		Status:    StatusStarted,
		StartedAt: now.UTC(),
	}
}

func (j *SyncJob) Complete(c Counts, now time.Time) error {
	if j.Status != StatusStarted {
		return fmt.Errorf("job %s is %s: %w", j.ID, j.Status, ErrAlreadyFinalized)
	}
	done := now.UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &done
	j.RecordsSynced = c.Synced
	j.RecordsFailed = c.Failed
	j.RecordsSkipped = c.Skipped
	return nil
}

// Fail finalizes the job with cause's message. Counts gathered before the
// failure are kept.
func (j *SyncJob) Fail(cause error, c Counts, now time.Time) error {
	if j.Status != StatusStarted {
		return fmt.Errorf("job %s is %s: %w", j.ID, j.Status, ErrAlreadyFinalized)
	}
	done := now.UTC()
	j.Status = StatusFailed
	j.CompletedAt = &done
	j.RecordsSynced = c.Synced
	j.RecordsFailed = c.Failed
	j.RecordsSkipped = c.Skipped
	if cause != nil {
		j.Error = cause.Error()
	}
	return nil
}

// JobRepository stores SyncJobs in the sync_jobs collection. The job id
// doubles as the document id.
type JobRepository struct {
	docs store.Store
}

func NewJobRepository(docs store.Store) *JobRepository {
	return &JobRepository{docs: docs}
}

func (r *JobRepository) Create(ctx context.Context, job *SyncJob) error {
	doc, err := store.Encode(job)
	if err != nil {
		return err
	}
	if _, err := r.docs.CreateOne(ctx, store.CollectionSyncJobs, doc); err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// Save writes the job's current status, counts and error.
func (r *JobRepository) Save(ctx context.Context, job *SyncJob) error {
	patch := store.Document{
		"status":          job.Status,
		"records_synced":  job.RecordsSynced,
		"records_failed":  job.RecordsFailed,
		"records_skipped": job.RecordsSkipped,
		"error":           job.Error,
	}
	if job.CompletedAt != nil {
		patch["completed_at"] = job.CompletedAt.UTC()
	}
	if _, err := r.docs.UpdateOne(ctx, store.CollectionSyncJobs, job.ID, patch); err != nil {
		return fmt.Errorf("failed to save sync job %s: %w", job.ID, err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*SyncJob, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionSyncJobs, store.Where(store.Eq("id", id)).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to read sync job %s: %w", id, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("sync job %s: %w", id, store.ErrNotFound)
	}
	var job SyncJob
	if err := store.Decode(docs[0], &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs first. An empty tenantID lists every
// tenant.
func (r *JobRepository) List(ctx context.Context, tenantID string, limit int) ([]*SyncJob, error) {
	filter := store.Where()
	if tenantID != "" {
		filter = store.Where(store.Eq("tenant_id", tenantID))
	}
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionSyncJobs, filter.SortBy("-started_at").WithLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}

	jobs := make([]*SyncJob, 0, len(docs))
	for _, doc := range docs {
		var job SyncJob
		if err := store.Decode(doc, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}
