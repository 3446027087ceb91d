package rpcapi

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/validator"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/rpc"
)

type fakeSubmitter struct{}

func (fakeSubmitter) Submit(_ context.Context, req *jobs.SubmitRequest) (*jobs.SubmitResponse, error) {
	if err := validator.ValidateSubmitRequest(req); err != nil {
		return nil, err
	}
	return &jobs.SubmitResponse{JobID: 11, Status: jobs.StatusPending}, nil
}

type fakeGetter map[int64]*jobs.Job

func (f fakeGetter) GetJob(_ context.Context, id int64) (*jobs.Job, error) {
	job, ok := f[id]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	return job, nil
}

func newClient(t *testing.T, getter JobGetter) *rpc.Client {
	t.Helper()
	srv := rpc.NewServer()
	New(fakeSubmitter{}, getter).Register(srv)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(srv.Stop)
	c, err := rpc.Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSubmitOverRPC(t *testing.T) {
	c := newClient(t, fakeGetter{})
	var resp jobs.SubmitResponse
	err := c.Call(context.Background(), MethodSubmit, jobs.SubmitRequest{InputPath: "q.txt", TopK: 3}, &resp)
	if err != nil {
		t.Fatal(err)
	}
	if resp.JobID != 11 || resp.Status != jobs.StatusPending {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSubmitValidationOverRPC(t *testing.T) {
	c := newClient(t, fakeGetter{})
	err := c.Call(context.Background(), MethodSubmit, jobs.SubmitRequest{TopK: -1}, nil)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestGetOverRPC(t *testing.T) {
	done := &jobs.Job{
		ID:     5,
		Status: jobs.StatusDone,
		Result: []phrase.Count{{Phrase: "c", Count: 3}, {Phrase: "a", Count: 3}},
	}
	c := newClient(t, fakeGetter{5: done})
	ctx := context.Background()

	var job jobs.Job
	if err := c.Call(ctx, MethodGet, GetRequest{JobID: 5}, &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != jobs.StatusDone || len(job.Result) != 2 || job.Result[0].Phrase != "c" {
		t.Errorf("job = %+v", job)
	}

	if err := c.Call(ctx, MethodGet, GetRequest{JobID: 6}, nil); !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Errorf("missing job err = %v", err)
	}
	if err := c.Call(ctx, MethodGet, GetRequest{}, nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("zero id err = %v", err)
	}
}
