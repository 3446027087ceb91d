package aggregate

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/chunk"
)

// BenchmarkIngest measures per-record aggregation with a window of 10 000
// records spilling to a discarded sink.
func BenchmarkIngest(b *testing.B) {
	records := make([]string, 1000)
	for i := range records {
		records[i] = fmt.Sprintf("query-%d|query-%d|common phrase", i%97, i%13)
	}
	a := New(chunk.NewWriter(io.Discard, "|"), Options{Delimiter: "|", FlushEvery: 10000})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := a.Ingest(records[i%len(records)]); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkIngestAll measures the streaming path including line scanning.
func BenchmarkIngestAll(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&sb, "alpha %d|beta|gamma %d\n", i%50, i%7)
	}
	input := sb.String()

	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := New(chunk.NewWriter(io.Discard, "|"), Options{Delimiter: "|", FlushEvery: 1000})
		if err := a.IngestAll(b.Context(), strings.NewReader(input)); err != nil {
			b.Fatal(err)
		}
	}
}
