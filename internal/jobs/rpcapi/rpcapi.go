// Package rpcapi exposes job submission and lookup as RPC methods for
// callers inside the platform that prefer a persistent connection over HTTP.
package rpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/rpc"
)

const (
	MethodSubmit = "JobService.Submit"
	MethodGet    = "JobService.Get"
)

// Submitter accepts new jobs.
type Submitter interface {
	Submit(ctx context.Context, req *jobs.SubmitRequest) (*jobs.SubmitResponse, error)
}

// JobGetter reads a job's current state.
type JobGetter interface {
	GetJob(ctx context.Context, id int64) (*jobs.Job, error)
}

// GetRequest is the params of JobService.Get.
type GetRequest struct {
	JobID int64 `json:"job_id"`
}

// Service exposes job submission and lookup as RPC methods.
type Service struct {
	submitter Submitter
	jobs      JobGetter
}

// New returns a Service backed by sub and getter.
func New(sub Submitter, getter JobGetter) *Service {
	return &Service{submitter: sub, jobs: getter}
}

func (s *Service) Register(srv *rpc.Server) {
	srv.Register(MethodSubmit, s.submit)
	srv.Register(MethodGet, s.get)
}

func (s *Service) submit(ctx context.Context, params json.RawMessage) (any, error) {
	var req jobs.SubmitRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: decoding submit params: %v", apperrors.ErrInvalidInput, err)
	}
	resp, err := s.submitter.Submit(ctx, &req)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("job accepted over rpc", "job_id", resp.JobID)
	return resp, nil
}

func (s *Service) get(ctx context.Context, params json.RawMessage) (any, error) {
	var req GetRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: decoding get params: %v", apperrors.ErrInvalidInput, err)
	}
	if req.JobID <= 0 {
		return nil, fmt.Errorf("%w: job_id must be a positive integer", apperrors.ErrInvalidInput)
	}
	return s.jobs.GetJob(ctx, req.JobID)
}
