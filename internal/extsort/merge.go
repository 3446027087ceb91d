package extsort

import (
	"container/heap"
	"context"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

// cancelCheckEvery is how many frontier advances pass between context checks.
const cancelCheckEvery = 1024

// frontier holds one reader per non-exhausted chunk, ordered by the record
// under each cursor. The root is the next record of the merged stream.
type frontier []*chunk.Reader

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	a, _ := f[i].Peek()
	b, _ := f[j].Peek()
	return phrase.Ranks(a, b)
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) {
	*f = append(*f, x.(*chunk.Reader))
}

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	rd := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return rd
}

func mergeReaders(ctx context.Context, readers []*chunk.Reader, out *chunk.Writer) (int64, error) {
	f := make(frontier, 0, len(readers))
	for _, rd := range readers {
		if _, ok := rd.Peek(); ok {
			f = append(f, rd)
		} else if err := rd.Err(); err != nil {
			return 0, apperrors.New(apperrors.StageMerge, apperrors.ErrStorageRead, err)
		}
	}
	heap.Init(&f)

	var n int64
	for f.Len() > 0 {
		if n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return n, apperrors.New(apperrors.StageMerge, apperrors.ErrCancelled, err)
			}
		}
		top := f[0]
		c, _ := top.Peek()
		if err := out.Write(c); err != nil {
			return n, apperrors.New(apperrors.StageMerge, apperrors.ErrStorageWrite, err)
		}
		n++
		top.Advance()
		if _, ok := top.Peek(); ok {
			heap.Fix(&f, 0)
			continue
		}
		if err := top.Err(); err != nil {
			return n, apperrors.New(apperrors.StageMerge, apperrors.ErrStorageRead, err)
		}
		heap.Pop(&f)
	}
	return n, nil
}
