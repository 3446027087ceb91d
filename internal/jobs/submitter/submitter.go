// Package submitter records new jobs in PostgreSQL and hands them to the
// workers over Kafka.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/validator"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/kafka"
)

// Store is the part of the job store the submitter writes to.
type Store interface {
	Create(ctx context.Context, req *jobs.SubmitRequest) (int64, error)
	Get(ctx context.Context, id int64) (*jobs.Job, error)
	Fail(ctx context.Context, id int64, cause error) error
	ListByStatus(ctx context.Context, status jobs.Status, limit int) ([]int64, error)
}

// Publisher sends events to the jobs topic.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Submitter records new jobs and hands them to the workers.
type Submitter struct {
	store     Store
	publisher Publisher
	defaults  config.PipelineConfig
	logger    *slog.Logger
}

// New returns a Submitter that fills omitted job settings from defaults.
func New(store Store, publisher Publisher, defaults config.PipelineConfig) *Submitter {
	return &Submitter{
		store:     store,
		publisher: publisher,
		defaults:  defaults,
		logger:    slog.Default().With("component", "job-submitter"),
	}
}

// Submit validates req, stores it as a PENDING job and publishes it. If the
// publish fails the job is marked FAILED and the error returned.
func (s *Submitter) Submit(ctx context.Context, req *jobs.SubmitRequest) (*jobs.SubmitResponse, error) {
	if err := validator.ValidateSubmitRequest(req); err != nil {
		return nil, err
	}
	normalized := *req
	if normalized.TopK == 0 {
		normalized.TopK = s.defaults.TopK
	}
	if normalized.Delimiter == "" {
		normalized.Delimiter = s.defaults.Delimiter
	}

	id, err := s.store.Create(ctx, &normalized)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	if err := s.publish(ctx, id, &normalized); err != nil {
		if failErr := s.store.Fail(ctx, id, err); failErr != nil {
			s.logger.Error("failed to mark unpublished job failed, job stuck in PENDING",
				"job_id", id,
				"error", failErr,
			)
		}
		return nil, err
	}
	s.logger.Info("job submitted",
		"job_id", id,
		"input_path", normalized.InputPath,
		"top_k", normalized.TopK,
	)
	return &jobs.SubmitResponse{JobID: id, Status: jobs.StatusPending}, nil
}

// Requeue republishes up to limit PENDING jobs in one batch, for example
// ones whose service stopped between insert and publish. It returns how many
// were sent.
func (s *Submitter) Requeue(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListByStatus(ctx, jobs.StatusPending, limit)
	if err != nil {
		return 0, err
	}
	events := make([]kafka.Event, 0, len(ids))
	for _, id := range ids {
		job, err := s.store.Get(ctx, id)
		if err != nil {
			s.logger.Error("requeue: loading job", "job_id", id, "error", err)
			continue
		}
		events = append(events, requestEvent(id, &jobs.SubmitRequest{
			InputPath: job.InputPath,
			TopK:      job.TopK,
			Delimiter: job.Delimiter,
		}))
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := s.publisher.PublishBatch(ctx, events); err != nil {
		return 0, fmt.Errorf("requeueing %d jobs: %w", len(events), err)
	}
	s.logger.Info("requeued pending jobs", "count", len(events))
	return len(events), nil
}

func (s *Submitter) publish(ctx context.Context, id int64, req *jobs.SubmitRequest) error {
	if err := s.publisher.Publish(ctx, requestEvent(id, req)); err != nil {
		return fmt.Errorf("publishing job %d: %w", id, err)
	}
	return nil
}

func requestEvent(id int64, req *jobs.SubmitRequest) kafka.Event {
	return kafka.Event{
		Key: strconv.FormatInt(id, 10),
		Value: jobs.JobRequest{
			JobID:       id,
			InputPath:   req.InputPath,
			TopK:        req.TopK,
			Delimiter:   req.Delimiter,
			SubmittedAt: time.Now().UTC(),
		},
	}
}
