// Package worker consumes job requests from Kafka, runs the phrase pipeline
// for each, records the outcome and announces it on the events topic.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/validator"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/resilience"
)

// Store is the job persistence the worker needs.
type Store interface {
	MarkRunning(ctx context.Context, id int64) (bool, error)
	Complete(ctx context.Context, id int64, result []phrase.Count) error
	Fail(ctx context.Context, id int64, cause error) error
	Get(ctx context.Context, id int64) (*jobs.Job, error)
}

// Cache receives the final job state after each run.
type Cache interface {
	Put(ctx context.Context, job *jobs.Job)
}

// Publisher announces finished jobs on the events topic.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Worker runs jobs delivered by the consumer.
type Worker struct {
	pipeline *pipeline.Pipeline
	store    Store
	cache    Cache
	events   Publisher
	cfg      config.WorkerConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns a Worker. cache, events and m may be nil.
func New(p *pipeline.Pipeline, store Store, cache Cache, events Publisher, cfg config.WorkerConfig, m *metrics.Metrics) *Worker {
	return &Worker{
		pipeline: p,
		store:    store,
		cache:    cache,
		events:   events,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "job-worker"),
	}
}

// HandleMessage is a kafka.MessageHandler. It returns an error only when the
// outcome could not be recorded or the worker is shutting down; the consumer
// then retries the message in place and never commits past it.
func (w *Worker) HandleMessage(ctx context.Context, key, value []byte) error {
	req, err := kafka.DecodeJSON[jobs.JobRequest](value)
	if err != nil {
		w.logger.Error("dropping undecodable job message", "key", string(key), "error", err)
		return nil
	}
	return w.Process(ctx, &req)
}

// Process runs one job to a terminal status.
func (w *Worker) Process(ctx context.Context, req *jobs.JobRequest) error {
	ctx = logger.WithRequestID(ctx, "job-"+strconv.FormatInt(req.JobID, 10))
	log := logger.FromContext(ctx).With("job_id", req.JobID)

	ok, err := w.store.MarkRunning(ctx, req.JobID)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("job already finished, skipping redelivery")
		return nil
	}

	if w.metrics != nil {
		w.metrics.JobsInFlight.Inc()
		defer w.metrics.JobsInFlight.Dec()
	}

	start := time.Now()
	res, runErr := w.run(ctx, req)
	if ctx.Err() != nil {
		log.Warn("worker stopping, job left for redelivery", "error", runErr)
		return ctx.Err()
	}

	if runErr != nil {
		if err := w.store.Fail(ctx, req.JobID, runErr); err != nil {
			return err
		}
	} else if err := w.store.Complete(ctx, req.JobID, res.Phrases); err != nil {
		return err
	}
	log.Info("job finished",
		"ok", runErr == nil,
		"stage", apperrors.StageOf(runErr),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.refreshCache(ctx, req.JobID)
	w.announce(ctx, req.JobID, res, runErr)
	return nil
}

func (w *Worker) run(ctx context.Context, req *jobs.JobRequest) (pipeline.Result, error) {
	p, err := w.pipeline.WithOverrides(req.TopK, req.Delimiter)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	path, err := validator.ResolveInputPath(w.cfg.InputRootDir, req.InputPath)
	if err != nil {
		return pipeline.Result{}, err
	}

	var res pipeline.Result
	name := "job-" + strconv.FormatInt(req.JobID, 10)
	err = resilience.Retry(ctx, name, resilience.RetryConfig{
		MaxAttempts:  max(w.cfg.MaxAttempts, 1),
		InitialDelay: w.cfg.RetryDelay,
	}, func(attempt int) error {
		return resilience.WithTimeout(ctx, w.cfg.RunTimeout, "pipeline run", func(ctx context.Context) error {
			r, err := p.RunFile(ctx, path)
			if err != nil {
				if !retryable(err) {
					return resilience.Permanent(err)
				}
				return err
			}
			res = r
			return nil
		})
	})
	return res, err
}

// retryable reports whether running the same job again could succeed.
// Missing or malformed input fails the same way every time.
func retryable(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrInputUnavailable),
		errors.Is(err, apperrors.ErrMalformedRecord),
		errors.Is(err, apperrors.ErrInvalidInput):
		return false
	}
	return true
}

func (w *Worker) refreshCache(ctx context.Context, id int64) {
	if w.cache == nil {
		return
	}
	job, err := w.store.Get(ctx, id)
	if err != nil {
		w.logger.Error("reloading finished job for cache", "job_id", id, "error", err)
		return
	}
	w.cache.Put(ctx, job)
}

func (w *Worker) announce(ctx context.Context, id int64, res pipeline.Result, runErr error) {
	if w.events == nil {
		return
	}
	ev := jobs.JobEvent{
		JobID:           id,
		Status:          jobs.StatusDone,
		Phrases:         res.Phrases,
		Records:         res.Records,
		DistinctPhrases: res.DistinctPhrases,
		FinishedAt:      time.Now().UTC(),
	}
	if runErr != nil {
		ev.Status = jobs.StatusFailed
		ev.Error = runErr.Error()
		ev.ErrorStage = string(apperrors.StageOf(runErr))
	}
	err := w.events.Publish(ctx, kafka.Event{Key: strconv.FormatInt(id, 10), Value: ev})
	if err != nil {
		w.logger.Error("failed to publish job event", "job_id", id, "error", err)
	}
}
