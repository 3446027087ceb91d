// Package pipeline runs the complete top-K phrase computation:
//
//	AGGREGATE  input records → windowed counts → stats file
//	SPLIT      stats file → sorted chunk files
//	MERGE      chunk files → one globally sorted file
//	REDUCE     sorted file → top K phrases
//
// Stages run strictly one after another. Every intermediate file lives in a
// per-run directory under the configured temp dir and is removed when Run
// returns.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/aggregate"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/extsort"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/topk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/tracing"
)

const (
	statsFileName  = "stats"
	mergedFileName = "merged"
)

// Result is the outcome of one run. DistinctPhrases is a HyperLogLog
// estimate; when it does not exceed the requested K the phrase list is
// complete.
type Result struct {
	Phrases         []phrase.Count `json:"phrases"`
	Records         int64          `json:"records"`
	Windows         int            `json:"windows"`
	Chunks          int            `json:"chunks"`
	DistinctPhrases uint64         `json:"distinct_phrases"`
	Duration        time.Duration  `json:"duration_ns"`
}

// Pipeline is safe for concurrent use; each Run gets its own work directory.
type Pipeline struct {
	cfg     config.PipelineConfig
	metrics *metrics.Metrics
}

// New validates cfg and returns a Pipeline. m may be nil.
func New(cfg config.PipelineConfig, m *metrics.Metrics) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Pipeline{
		cfg:     cfg,
		metrics: m,
	}, nil
}

// Config returns the settings the pipeline runs with.
func (p *Pipeline) Config() config.PipelineConfig {
	return p.cfg
}

// WithOverrides returns a copy of p using topK and delimiter where they are
// non-zero.
func (p *Pipeline) WithOverrides(topK int, delimiter string) (*Pipeline, error) {
	cfg := p.cfg
	if topK != 0 {
		cfg.TopK = topK
	}
	if delimiter != "" {
		cfg.Delimiter = delimiter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cp := *p
	cp.cfg = cfg
	return &cp, nil
}

// RunFile runs the pipeline over the file at path.
func (p *Pipeline) RunFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		err = apperrors.New(apperrors.StageAggregate, apperrors.ErrInputUnavailable, err)
		p.metrics.RunFinished(err)
		return Result{}, err
	}
	defer f.Close()
	return p.Run(ctx, f)
}

// Run reads input records from r and returns the top K phrases. Any failure
// aborts the run; no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (res Result, err error) {
	start := time.Now()
	var span *tracing.Span
	if tracing.SpanFromContext(ctx) != nil {
		ctx, span = tracing.StartChildSpan(ctx, "pipeline.run")
	} else {
		ctx, span = tracing.StartSpan(ctx, "pipeline.run", logger.RequestID(ctx))
	}
	log := logger.FromContext(ctx).With("component", "pipeline")

	defer func() {
		span.End()
		p.metrics.RunFinished(err)
		if err != nil {
			span.SetAttr("error", err.Error())
			log.Error("pipeline run failed", "stage", apperrors.StageOf(err), "error", err)
		}
		span.Log(log)
	}()

	workDir, err := os.MkdirTemp(p.cfg.TempDir, "topphrases-")
	if err != nil {
		return Result{}, apperrors.New(apperrors.StageAggregate, apperrors.ErrStorageWrite,
			fmt.Errorf("creating work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	statsPath := filepath.Join(workDir, statsFileName)
	agg, err := p.aggregate(ctx, r, statsPath)
	if err != nil {
		return Result{}, err
	}

	mergedPath := filepath.Join(workDir, mergedFileName)
	chunks, err := p.sort(ctx, workDir, statsPath, mergedPath)
	if err != nil {
		return Result{}, err
	}
	os.Remove(statsPath)

	phrases, err := p.reduce(ctx, mergedPath)
	if err != nil {
		return Result{}, err
	}

	res = Result{
		Phrases:         phrases,
		Records:         agg.Records(),
		Windows:         agg.Windows(),
		Chunks:          chunks,
		DistinctPhrases: agg.DistinctEstimate(),
		Duration:        time.Since(start),
	}
	span.SetAttr("records", res.Records)
	span.SetAttr("phrases", len(phrases))
	log.Info("pipeline run complete",
		"records", res.Records,
		"windows", res.Windows,
		"chunks", chunks,
		"distinct_estimate", res.DistinctPhrases,
		"top_k", p.cfg.TopK,
		"returned", len(phrases),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) aggregate(ctx context.Context, r io.Reader, statsPath string) (*aggregate.Aggregator, error) {
	_, span := tracing.StartChildSpan(ctx, "aggregate")
	defer span.End()
	start := time.Now()

	sink, err := chunk.Create(statsPath, p.cfg.Delimiter)
	if err != nil {
		return nil, apperrors.New(apperrors.StageAggregate, apperrors.ErrStorageWrite, err)
	}
	agg := aggregate.New(sink, aggregate.Options{
		Delimiter:  p.cfg.Delimiter,
		FlushEvery: p.cfg.ChunkRecordLimit,
	})
	if err := agg.IngestAll(ctx, r); err != nil {
		sink.Abort()
		return nil, err
	}
	if err := sink.Close(); err != nil {
		return nil, apperrors.New(apperrors.StageAggregate, apperrors.ErrStorageWrite, err)
	}

	p.metrics.AddRecords(int(agg.Records()))
	p.metrics.AddWindows(agg.Windows())
	p.metrics.ObserveStage(string(apperrors.StageAggregate), time.Since(start))
	span.SetAttr("records", agg.Records())
	span.SetAttr("windows", agg.Windows())
	return agg, nil
}

func (p *Pipeline) sort(ctx context.Context, workDir, statsPath, mergedPath string) (int, error) {
	ctx, span := tracing.StartChildSpan(ctx, "sort")
	defer span.End()

	in, err := os.Open(statsPath)
	if err != nil {
		return 0, apperrors.New(apperrors.StageSplit, apperrors.ErrStorageRead, err)
	}
	defer in.Close()

	out, err := os.Create(mergedPath)
	if err != nil {
		return 0, apperrors.New(apperrors.StageMerge, apperrors.ErrStorageWrite, err)
	}
	sorter := extsort.New(extsort.Options{
		Dir:          workDir,
		Prefix:       p.cfg.ChunkPrefix,
		ChunkRecords: p.cfg.ChunkRecordLimit,
		Workers:      p.cfg.SplitWorkers,
		Delimiter:    p.cfg.Delimiter,
	}, p.metrics)

	st, err := sorter.Sort(ctx, in, out)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = apperrors.New(apperrors.StageMerge, apperrors.ErrStorageWrite, closeErr)
	}
	if err != nil {
		return 0, err
	}
	span.SetAttr("chunks", st.Chunks)
	span.SetAttr("merged_records", st.Records)
	return st.Chunks, nil
}

func (p *Pipeline) reduce(ctx context.Context, mergedPath string) ([]phrase.Count, error) {
	ctx, span := tracing.StartChildSpan(ctx, "reduce")
	defer span.End()
	start := time.Now()

	f, err := os.Open(mergedPath)
	if err != nil {
		return nil, apperrors.New(apperrors.StageReduce, apperrors.ErrStorageRead, err)
	}
	defer f.Close()

	phrases, err := topk.Reduce(ctx, f, p.cfg.Delimiter, p.cfg.TopK)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage(string(apperrors.StageReduce), time.Since(start))
	span.SetAttr("returned", len(phrases))
	return phrases, nil
}

// WriteResult writes phrases to w as stats lines in rank order.
func WriteResult(w io.Writer, phrases []phrase.Count, delim string) error {
	cw := chunk.NewWriter(w, delim)
	for _, c := range phrases {
		if err := cw.Write(c); err != nil {
			return err
		}
	}
	return cw.Flush()
}
