package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs/validator"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

type fakeSubmitter struct {
	got *jobs.SubmitRequest
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, req *jobs.SubmitRequest) (*jobs.SubmitResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if err := validator.ValidateSubmitRequest(req); err != nil {
		return nil, err
	}
	return &jobs.SubmitResponse{JobID: 42, Status: jobs.StatusPending}, nil
}

type fakeGetter map[int64]*jobs.Job

func (f fakeGetter) GetJob(_ context.Context, id int64) (*jobs.Job, error) {
	if id == 500 {
		return nil, errors.New("db down")
	}
	job, ok := f[id]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	return job, nil
}

func newServer(sub Submitter, get JobGetter) *httptest.Server {
	mux := http.NewServeMux()
	New(sub, get).Register(mux)
	return httptest.NewServer(mux)
}

func TestSubmit(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := newServer(sub, fakeGetter{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json",
		strings.NewReader(`{"input_path":"q.txt","top_k":5,"delimiter":";"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body jobs.SubmitResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.JobID != 42 || body.Status != jobs.StatusPending {
		t.Errorf("body = %+v", body)
	}
	if sub.got.TopK != 5 || sub.got.Delimiter != ";" {
		t.Errorf("submitted = %+v", sub.got)
	}
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		subErr error
		want   int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"unknown field", `{"input_path":"q","extra":1}`, nil, http.StatusBadRequest},
		{"validation", `{"input_path":""}`, nil, http.StatusBadRequest},
		{"backend", `{"input_path":"q"}`, errors.New("kafka down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(&fakeSubmitter{err: tt.subErr}, fakeGetter{})
			defer srv.Close()
			resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	srv := newServer(&fakeSubmitter{}, fakeGetter{})
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json",
		strings.NewReader(`{"input_path":"q","delimiter":"ab"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if _, ok := body.Fields["delimiter"]; !ok {
		t.Errorf("fields = %v, want delimiter", body.Fields)
	}
}

func TestGet(t *testing.T) {
	jobsByID := fakeGetter{
		7: {ID: 7, Status: jobs.StatusDone, Result: []phrase.Count{{Phrase: "c", Count: 3}}},
	}
	srv := newServer(&fakeSubmitter{}, jobsByID)
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/jobs/7", http.StatusOK},
		{"/api/v1/jobs/8", http.StatusNotFound},
		{"/api/v1/jobs/abc", http.StatusBadRequest},
		{"/api/v1/jobs/0", http.StatusBadRequest},
		{"/api/v1/jobs/500", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
		if tt.want == http.StatusOK {
			var job jobs.Job
			json.NewDecoder(resp.Body).Decode(&job)
			if job.ID != 7 || len(job.Result) != 1 || job.Result[0].Count != 3 {
				t.Errorf("job = %+v", job)
			}
		}
		resp.Body.Close()
	}
}
