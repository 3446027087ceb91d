package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/metrics"
)

func testConfig(t testing.TB, limit, k int) config.PipelineConfig {
	t.Helper()
	cfg := config.DefaultPipeline()
	cfg.ChunkRecordLimit = limit
	cfg.TopK = k
	cfg.TempDir = t.TempDir()
	return cfg
}

func newTestPipeline(t testing.TB, limit, k int) *Pipeline {
	t.Helper()
	p, err := New(testConfig(t, limit, k), nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// naiveTopK counts everything in memory.
func naiveTopK(records []string, delim string, k int) []phrase.Count {
	counts := map[string]uint64{}
	for _, rec := range records {
		for p := range phrase.Split(rec, delim) {
			counts[p]++
		}
	}
	all := phrase.FromMap(counts)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// dominantRecords produces 4 windows of 10 records in which alpha, beta and
// gamma outrank every rare phrase inside each window.
func dominantRecords() []string {
	var out []string
	for j := 0; j < 40; j++ {
		rec := fmt.Sprintf("alpha|alpha|beta|gamma|r%d", j%7)
		if j%2 == 0 {
			rec += "|beta"
		}
		out = append(out, rec)
	}
	return out
}

func TestRunScenario(t *testing.T) {
	p := newTestPipeline(t, 2, 2)
	res, err := p.Run(context.Background(), strings.NewReader("a|b|a\nb|c\na|c|c\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []phrase.Count{{Phrase: "c", Count: 3}, {Phrase: "a", Count: 3}}
	if fmt.Sprint(res.Phrases) != fmt.Sprint(want) {
		t.Fatalf("Phrases = %v, want %v", res.Phrases, want)
	}
	if res.Records != 3 || res.Windows != 2 || res.Chunks != 3 {
		t.Errorf("Records=%d Windows=%d Chunks=%d, want 3/2/3", res.Records, res.Windows, res.Chunks)
	}
	if res.DistinctPhrases != 3 {
		t.Errorf("DistinctPhrases = %d, want 3", res.DistinctPhrases)
	}
}

func TestRunEmptyInput(t *testing.T) {
	p := newTestPipeline(t, 10, 5)
	res, err := p.Run(context.Background(), strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Phrases) != 0 || res.Records != 0 || res.Chunks != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunMatchesNaiveReference(t *testing.T) {
	records := dominantRecords()
	input := strings.Join(records, "\n") + "\n"
	distinct := len(naiveTopK(records, "|", 1000))

	for _, k := range []int{1, 2, 3, distinct, distinct + 5} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			p := newTestPipeline(t, 10, k)
			res, err := p.Run(context.Background(), strings.NewReader(input))
			if err != nil {
				t.Fatal(err)
			}
			want := naiveTopK(records, "|", k)
			if fmt.Sprint(res.Phrases) != fmt.Sprint(want) {
				t.Fatalf("Phrases = %v, want %v", res.Phrases, want)
			}
			if res.Windows != 4 || res.Chunks != 4 {
				t.Errorf("Windows=%d Chunks=%d, want 4/4", res.Windows, res.Chunks)
			}
		})
	}
}

func TestRunConservesCounts(t *testing.T) {
	records := []string{"x|y", "", "y|y|z", "x", "z|x|w", "w", "", "v|x"}
	p := newTestPipeline(t, 3, 100)
	res, err := p.Run(context.Background(), strings.NewReader(strings.Join(records, "\n")))
	if err != nil {
		t.Fatal(err)
	}
	var got, want uint64
	for _, c := range res.Phrases {
		got += c.Count
	}
	for _, c := range naiveTopK(records, "|", 100) {
		want += c.Count
	}
	if got != want {
		t.Fatalf("sum of counts = %d, want %d", got, want)
	}
}

func TestRunSingleWindow(t *testing.T) {
	p := newTestPipeline(t, 1000, 3)
	res, err := p.Run(context.Background(), strings.NewReader("q|r\nr|s\nr\n"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Windows != 1 || res.Chunks != 1 {
		t.Fatalf("Windows=%d Chunks=%d, want 1/1", res.Windows, res.Chunks)
	}
	want := []phrase.Count{{Phrase: "r", Count: 3}, {Phrase: "s", Count: 1}, {Phrase: "q", Count: 1}}
	if fmt.Sprint(res.Phrases) != fmt.Sprint(want) {
		t.Fatalf("Phrases = %v, want %v", res.Phrases, want)
	}
}

func TestRunCustomDelimiter(t *testing.T) {
	p := newTestPipeline(t, 2, 1)
	p, err := p.WithOverrides(0, ";")
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), strings.NewReader("a|b;c\nc;a|b\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Phrases) != 1 || res.Phrases[0] != (phrase.Count{Phrase: "c", Count: 2}) {
		t.Fatalf("Phrases = %v", res.Phrases)
	}
}

func TestWithOverridesRejectsInvalid(t *testing.T) {
	p := newTestPipeline(t, 2, 1)
	if _, err := p.WithOverrides(-1, ""); err == nil {
		t.Error("negative topK accepted")
	}
	if _, err := p.WithOverrides(0, "||"); err == nil {
		t.Error("multi-character delimiter accepted")
	}
}

func TestRunFileUnavailable(t *testing.T) {
	p := newTestPipeline(t, 10, 1)
	_, err := p.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, apperrors.ErrInputUnavailable) {
		t.Fatalf("err = %v, want ErrInputUnavailable", err)
	}
	if apperrors.StageOf(err) != apperrors.StageAggregate {
		t.Errorf("stage = %q", apperrors.StageOf(err))
	}
}

func TestRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	if err := os.WriteFile(path, []byte("a|b|a\nb|c\na|c|c\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := newTestPipeline(t, 2, 2)
	res, err := p.RunFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Phrases) != 2 || res.Phrases[0].Phrase != "c" {
		t.Fatalf("Phrases = %v", res.Phrases)
	}
}

func TestRunRemovesWorkFiles(t *testing.T) {
	cfg := testConfig(t, 2, 2)
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), strings.NewReader("a|b\nc|d\ne|f\ng\n")); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(cfg.TempDir)
	if len(entries) != 0 {
		t.Fatalf("%d entries left in temp dir", len(entries))
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t, 100, 5)
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	input := strings.Repeat("a|b|c\n", 3000)
	_, err = p.Run(ctx, strings.NewReader(input))
	if !errors.Is(err, apperrors.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	entries, _ := os.ReadDir(cfg.TempDir)
	if len(entries) != 0 {
		t.Fatalf("%d entries left after cancellation", len(entries))
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p, err := New(testConfig(t, 2, 2), m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), strings.NewReader("a|b|a\nb|c\na|c|c\n")); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.RecordsIngestedTotal); got != 3 {
		t.Errorf("records ingested = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.WindowsFlushedTotal); got != 2 {
		t.Errorf("windows flushed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChunksWrittenTotal); got != 3 {
		t.Errorf("chunks written = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok runs = %v, want 1", got)
	}

	p.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if got := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	err := WriteResult(&buf, []phrase.Count{{Phrase: "c", Count: 3}, {Phrase: "a", Count: 3}}, "|")
	if err != nil {
		t.Fatal(err)
	}
	if want := "3|c\n3|a\n"; buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}
