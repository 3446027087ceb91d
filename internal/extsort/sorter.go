// Package extsort sorts a stats stream larger than memory. SPLIT cuts the
// stream into runs of at most ChunkRecords records, sorts each run and
// writes it to its own chunk file; MERGE streams the chunks back through a
// k-way merge into one globally sorted stream.
package extsort

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/metrics"
)

// Phase is the sorter's progress through a run.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSplit
	PhaseMerge
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSplit:
		return "SPLIT"
	case PhaseMerge:
		return "MERGE"
	case PhaseDone:
		return "DONE"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Options configures a Sorter.
type Options struct {
	// Dir holds the chunk files. It must exist.
	Dir string
	// Prefix names chunk files: <Prefix><index>.tmp.
	Prefix string
	// ChunkRecords is the maximum number of records per chunk.
	ChunkRecords int
	// Workers bounds how many chunks are sorted and written concurrently.
	// Values below 1 mean sequential.
	Workers   int
	Delimiter string
}

// Stats describes a completed sort.
type Stats struct {
	Records int64
	Chunks  int
}

// Sorter runs one external sort at a time.
type Sorter struct {
	opts    Options
	phase   atomic.Int32
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Sorter. m may be nil.
func New(opts Options, m *metrics.Metrics) *Sorter {
	if opts.ChunkRecords < 1 {
		opts.ChunkRecords = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Prefix == "" {
		opts.Prefix = "sort-file-"
	}
	if opts.Delimiter == "" {
		opts.Delimiter = phrase.DefaultDelimiter
	}
	return &Sorter{
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "extsort"),
	}
}

// Phase reports where the current or last run is.
func (s *Sorter) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Sorter) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Sort reads the stats stream r and writes it to w in phrase.Compare order.
// Chunk files are removed before Sort returns, whether it succeeds or not.
func (s *Sorter) Sort(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	start := time.Now()
	paths, records, err := s.Split(ctx, r)
	defer removeAll(paths)
	if err != nil {
		return Stats{}, err
	}
	s.metrics.ObserveStage(string(apperrors.StageSplit), time.Since(start))

	start = time.Now()
	merged, err := s.Merge(ctx, paths, w)
	if err != nil {
		return Stats{}, err
	}
	s.metrics.ObserveStage(string(apperrors.StageMerge), time.Since(start))
	if merged != records {
		return Stats{}, apperrors.Newf(apperrors.StageMerge, apperrors.ErrInternal,
			"merged %d records, split %d", merged, records)
	}
	s.setPhase(PhaseDone)
	return Stats{Records: records, Chunks: len(paths)}, nil
}

// Split cuts r into sorted chunk files and returns their paths in creation
// order along with the number of records read. On failure every chunk
// already written is removed and no paths are returned.
func (s *Sorter) Split(ctx context.Context, r io.Reader) ([]string, int64, error) {
	s.setPhase(PhaseSplit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	var (
		paths   []string
		records int64
		batch   = make([]phrase.Count, 0, s.opts.ChunkRecords)
		line    int64
		readErr error // read and parse failures only
	)
	submit := func() {
		idx := len(paths)
		path := filepath.Join(s.opts.Dir, fmt.Sprintf("%s%d.tmp", s.opts.Prefix, idx))
		paths = append(paths, path)
		run := batch
		batch = make([]phrase.Count, 0, s.opts.ChunkRecords)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.writeChunk(path, run)
		})
	}

	for text, err := range chunk.Lines(r) {
		if err != nil {
			readErr = apperrors.New(apperrors.StageSplit, apperrors.ErrStorageRead, err)
			break
		}
		line++
		c, err := chunk.Parse(text, s.opts.Delimiter)
		if err != nil {
			readErr = apperrors.New(apperrors.StageSplit, apperrors.ErrMalformedRecord,
				fmt.Errorf("stats line %d: %w", line, err))
			break
		}
		batch = append(batch, c)
		records++
		if len(batch) == s.opts.ChunkRecords {
			// A failed chunk write cancels gctx; g.Wait reports its cause.
			if gctx.Err() != nil {
				break
			}
			submit()
		}
	}
	if readErr == nil && gctx.Err() == nil && len(batch) > 0 {
		submit()
	}

	waitErr := g.Wait()
	if err := firstErr(readErr, waitErr, ctx.Err()); err != nil {
		removeAll(paths)
		return nil, 0, apperrors.New(apperrors.StageSplit, apperrors.ErrStorageWrite, err)
	}

	s.metrics.AddChunks(len(paths))
	s.logger.Debug("split complete", "chunks", len(paths), "records", records)
	return paths, records, nil
}

func (s *Sorter) writeChunk(path string, run []phrase.Count) error {
	phrase.Sort(run)
	w, err := chunk.Create(path, s.opts.Delimiter)
	if err != nil {
		return err
	}
	for _, c := range run {
		if err := w.Write(c); err != nil {
			w.Abort()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// Merge k-way merges the sorted chunk files at paths into w and returns the
// number of records written. Zero paths produce an empty stream.
func (s *Sorter) Merge(ctx context.Context, paths []string, w io.Writer) (int64, error) {
	s.setPhase(PhaseMerge)

	readers := make([]*chunk.Reader, 0, len(paths))
	defer func() {
		for _, rd := range readers {
			rd.Close()
		}
	}()
	for _, path := range paths {
		rd, err := chunk.Open(path, s.opts.Delimiter)
		if err != nil {
			return 0, apperrors.New(apperrors.StageMerge, apperrors.ErrStorageRead, err)
		}
		readers = append(readers, rd)
	}

	out := chunk.NewWriter(w, s.opts.Delimiter)
	n, err := mergeReaders(ctx, readers, out)
	if err != nil {
		return n, err
	}
	if err := out.Flush(); err != nil {
		return n, apperrors.New(apperrors.StageMerge, apperrors.ErrStorageWrite, err)
	}
	s.metrics.AddMerged(n)
	s.logger.Debug("merge complete", "chunks", len(paths), "records", n)
	return n, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
