// Package aggregate implements the first pass of the pipeline: counting
// phrases over fixed-size windows of input records and spilling each window,
// sorted, to the stats stream.
package aggregate

import (
	"context"
	"io"
	"log/slog"

	"github.com/axiomhq/hyperloglog"
	"github.com/zeebo/xxh3"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

// cancelCheckEvery is how many records IngestAll reads between context checks.
const cancelCheckEvery = 1024

// Options configures an Aggregator.
type Options struct {
	// Delimiter separates phrases within a record.
	Delimiter string
	// FlushEvery is the window size: the buffer is flushed after every
	// FlushEvery records regardless of how many distinct phrases it holds.
	FlushEvery int
}

// Aggregator owns the phrase→count buffer of the current window. The window
// is bounded by record count, not memory: a window of high-cardinality
// records can still grow the buffer without limit.
//
// Every flushed phrase is also fed to a HyperLogLog sketch, so the number of
// distinct phrases across all windows can be estimated in constant memory.
type Aggregator struct {
	opts     Options
	sink     *chunk.Writer
	buffer   map[string]uint64
	distinct *hyperloglog.Sketch
	pending  int
	records  int64
	windows  int
	logger   *slog.Logger
}

// New returns an Aggregator that flushes windows to sink. FlushEvery values
// below 1 are treated as 1.
func New(sink *chunk.Writer, opts Options) *Aggregator {
	if opts.FlushEvery < 1 {
		opts.FlushEvery = 1
	}
	if opts.Delimiter == "" {
		opts.Delimiter = phrase.DefaultDelimiter
	}
	return &Aggregator{
		opts:     opts,
		sink:     sink,
		buffer:   make(map[string]uint64),
		distinct: hyperloglog.New(),
		logger:   slog.Default().With("component", "aggregator"),
	}
}

// Add counts one occurrence of p in the current window. It does not advance
// the window.
func (a *Aggregator) Add(p string) {
	a.buffer[p]++
}

// Ingest counts every phrase of one input record and advances the window,
// flushing when the window is full.
func (a *Aggregator) Ingest(record string) error {
	for p := range phrase.Split(record, a.opts.Delimiter) {
		a.Add(p)
	}
	a.records++
	a.pending++
	if a.pending >= a.opts.FlushEvery {
		return a.Flush()
	}
	return nil
}

// IngestAll ingests every line of r as a record and flushes the final
// partial window. Cancellation is observed between records.
func (a *Aggregator) IngestAll(ctx context.Context, r io.Reader) error {
	n := 0
	for record, err := range chunk.Lines(r) {
		if err != nil {
			return apperrors.New(apperrors.StageAggregate, apperrors.ErrInputUnavailable, err)
		}
		if n++; n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return apperrors.New(apperrors.StageAggregate, apperrors.ErrCancelled, err)
			}
		}
		if err := a.Ingest(record); err != nil {
			return err
		}
	}
	return a.Flush()
}

// Flush writes the buffer to the sink in phrase.Compare order and starts a
// new window. Flushing an empty buffer writes nothing.
func (a *Aggregator) Flush() error {
	a.pending = 0
	if len(a.buffer) == 0 {
		return nil
	}
	counts := phrase.FromMap(a.buffer)
	a.buffer = make(map[string]uint64)
	for _, c := range counts {
		a.distinct.InsertHash(xxh3.HashString(c.Phrase))
		if err := a.sink.Write(c); err != nil {
			return apperrors.New(apperrors.StageAggregate, apperrors.ErrStorageWrite, err)
		}
	}
	if err := a.sink.Flush(); err != nil {
		return apperrors.New(apperrors.StageAggregate, apperrors.ErrStorageWrite, err)
	}
	a.windows++
	a.logger.Debug("window flushed",
		"window", a.windows,
		"distinct_phrases", len(counts),
		"records_total", a.records,
	)
	return nil
}

// Records returns the number of records ingested.
func (a *Aggregator) Records() int64 {
	return a.records
}

// Windows returns the number of non-empty windows flushed.
func (a *Aggregator) Windows() int {
	return a.windows
}

// Buffered returns the number of distinct phrases in the current window.
func (a *Aggregator) Buffered() int {
	return len(a.buffer)
}

// DistinctEstimate returns the estimated number of distinct phrases flushed
// so far. It is exact for small sets and within a few percent otherwise.
func (a *Aggregator) DistinctEstimate() uint64 {
	return a.distinct.Estimate()
}
