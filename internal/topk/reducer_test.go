package topk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

func TestReduceScenario(t *testing.T) {
	merged := "2|c\n2|b\n2|a\n1|c\n1|a\n"
	got, err := Reduce(context.Background(), strings.NewReader(merged), "|", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []phrase.Count{{Phrase: "c", Count: 3}, {Phrase: "a", Count: 3}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Reduce = %v, want %v", got, want)
	}
}

func TestReduceEmpty(t *testing.T) {
	got, err := Reduce(context.Background(), strings.NewReader(""), "|", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("Reduce(empty) = %v", got)
	}
}

func TestReducerKRelativeToDistinct(t *testing.T) {
	// sorted stream with duplicates of the same phrase in different places
	stream := []phrase.Count{
		{Phrase: "x", Count: 9}, {Phrase: "y", Count: 6}, {Phrase: "x", Count: 4}, {Phrase: "z", Count: 3}, {Phrase: "w", Count: 2}, {Phrase: "y", Count: 2}, {Phrase: "z", Count: 1},
	}
	// totals: x=13 y=8 z=4 w=2
	tests := []struct {
		k    int
		want []phrase.Count
	}{
		{1, []phrase.Count{{Phrase: "x", Count: 13}}},
		{3, []phrase.Count{{Phrase: "x", Count: 13}, {Phrase: "y", Count: 8}, {Phrase: "z", Count: 4}}},
		{4, []phrase.Count{{Phrase: "x", Count: 13}, {Phrase: "y", Count: 8}, {Phrase: "z", Count: 4}, {Phrase: "w", Count: 2}}},
		{10, []phrase.Count{{Phrase: "x", Count: 13}, {Phrase: "y", Count: 8}, {Phrase: "z", Count: 4}, {Phrase: "w", Count: 2}}},
	}
	for _, tt := range tests {
		r := NewReducer(tt.k)
		for _, c := range stream {
			r.Add(c)
		}
		got := r.Result()
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("k=%d: Result = %v, want %v", tt.k, got, tt.want)
		}
		if r.Len() > tt.k+1 {
			t.Errorf("k=%d: working set grew to %d", tt.k, r.Len())
		}
	}
}

func TestReducerEvictsSmallest(t *testing.T) {
	r := NewReducer(1)
	r.Add(phrase.Count{Phrase: "a", Count: 5})
	r.Add(phrase.Count{Phrase: "b", Count: 4})
	r.Add(phrase.Count{Phrase: "c", Count: 3})
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	// c was evicted; a later c record starts from scratch
	r.Add(phrase.Count{Phrase: "c", Count: 3})
	got := r.Result()
	if len(got) != 1 || got[0] != (phrase.Count{Phrase: "a", Count: 5}) {
		t.Fatalf("Result = %v", got)
	}
	if r.Records() != 4 {
		t.Errorf("Records = %d", r.Records())
	}
}

func TestReducerTieBreak(t *testing.T) {
	r := NewReducer(2)
	for _, p := range []string{"apple", "cherry", "banana"} {
		r.Add(phrase.Count{Phrase: p, Count: 7})
	}
	got := r.Result()
	want := []phrase.Count{{Phrase: "cherry", Count: 7}, {Phrase: "banana", Count: 7}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Result = %v, want %v", got, want)
	}
}

func TestReduceMalformed(t *testing.T) {
	_, err := Reduce(context.Background(), strings.NewReader("3|a\n??\n"), "|", 3)
	if !errors.Is(err, apperrors.ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
	if apperrors.StageOf(err) != apperrors.StageReduce {
		t.Errorf("stage = %q, want REDUCE", apperrors.StageOf(err))
	}
}

func TestReduceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := strings.Repeat("1|a\n", 2*cancelCheckEvery)
	_, err := Reduce(ctx, strings.NewReader(stream), "|", 3)
	if !errors.Is(err, apperrors.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func BenchmarkReducerAdd(b *testing.B) {
	var sb strings.Builder
	for i := 10000; i > 0; i-- {
		sb.WriteString(chunk.Format(phrase.Count{Phrase: fmt.Sprintf("phrase-%d", i%3000), Count: uint64(i)}, "|"))
		sb.WriteByte('\n')
	}
	stream := sb.String()
	b.ReportAllocs()
	for b.Loop() {
		if _, err := Reduce(context.Background(), strings.NewReader(stream), "|", 100); err != nil {
			b.Fatal(err)
		}
	}
}
