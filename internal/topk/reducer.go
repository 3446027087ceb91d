// Package topk reduces a globally sorted stats stream to its K most frequent
// phrases, summing records of the same phrase wherever they appear.
package topk

import (
	"container/heap"
	"context"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

const cancelCheckEvery = 1024

type entry struct {
	phrase.Count
	index int
}

// minHeap keeps the lowest-ranked entry at the root.
type minHeap []*entry

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	return phrase.Compare(h[i].Count, h[j].Count) > 0
}

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *minHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Reducer accumulates counts per phrase in a working set of at most K+1
// entries. Whenever an insertion grows the set past K+1 the lowest-ranked
// entry is evicted, along with everything accumulated for it.
type Reducer struct {
	k       int
	byName  map[string]*entry
	heap    minHeap
	records int64
}

// NewReducer returns a Reducer keeping the top k phrases. k below 1 is
// treated as 1.
func NewReducer(k int) *Reducer {
	if k < 1 {
		k = 1
	}
	return &Reducer{
		k:      k,
		byName: make(map[string]*entry, k+1),
		heap:   make(minHeap, 0, k+2),
	}
}

// Add folds one record into the working set.
func (r *Reducer) Add(c phrase.Count) {
	r.records++
	if e, ok := r.byName[c.Phrase]; ok {
		e.Count.Count += c.Count
		heap.Fix(&r.heap, e.index)
		return
	}
	e := &entry{Count: c}
	heap.Push(&r.heap, e)
	r.byName[c.Phrase] = e
	if r.heap.Len() > r.k+1 {
		evicted := heap.Pop(&r.heap).(*entry)
		delete(r.byName, evicted.Phrase)
	}
}

// Records returns the number of records added.
func (r *Reducer) Records() int64 {
	return r.records
}

// Len returns the current size of the working set.
func (r *Reducer) Len() int {
	return r.heap.Len()
}

// Result returns the top K phrases in phrase.Compare order. Fewer than K
// are returned when fewer distinct phrases survived. The working set is not
// modified.
func (r *Reducer) Result() []phrase.Count {
	out := make([]phrase.Count, 0, r.heap.Len())
	for _, e := range r.heap {
		out = append(out, e.Count)
	}
	phrase.Sort(out)
	if len(out) > r.k {
		out = out[:r.k]
	}
	return out
}

// Reduce reads a sorted stats stream from r and returns its top k phrases.
func Reduce(ctx context.Context, r io.Reader, delim string, k int) ([]phrase.Count, error) {
	red := NewReducer(k)
	var line int64
	for text, err := range chunk.Lines(r) {
		if err != nil {
			return nil, apperrors.New(apperrors.StageReduce, apperrors.ErrStorageRead, err)
		}
		line++
		if line%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.New(apperrors.StageReduce, apperrors.ErrCancelled, err)
			}
		}
		c, err := chunk.Parse(text, delim)
		if err != nil {
			return nil, apperrors.New(apperrors.StageReduce, apperrors.ErrMalformedRecord,
				fmt.Errorf("merged line %d: %w", line, err))
		}
		red.Add(c)
	}
	return red.Result(), nil
}
