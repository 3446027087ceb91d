// Package phrase defines the phrase-count record shared by every pipeline
// stage, the total order those records are sorted in, and the splitter that
// turns one input record into phrases.
package phrase

import (
	"cmp"
	"iter"
	"slices"
	"strings"
)

// DefaultDelimiter separates phrases within a record and the count from the
// phrase within a stats line.
const DefaultDelimiter = "|"

// Count is a phrase with its occurrence count. Counts are summed with plain
// uint64 addition; overflow past 2^64-1 occurrences is not detected.
type Count struct {
	Phrase string `json:"phrase"`
	Count  uint64 `json:"count"`
}

// Compare orders counts descending by Count, then descending by Phrase
// (byte-wise). It returns a negative number when a ranks before b. Equal
// results mean the records are identical.
func Compare(a, b Count) int {
	if c := cmp.Compare(b.Count, a.Count); c != 0 {
		return c
	}
	return strings.Compare(b.Phrase, a.Phrase)
}

// Ranks reports whether a strictly precedes b.
func Ranks(a, b Count) bool {
	return Compare(a, b) < 0
}

// Sort orders counts in place by Compare.
func Sort(counts []Count) {
	slices.SortFunc(counts, Compare)
}

// IsSorted reports whether counts are in Compare order.
func IsSorted(counts []Count) bool {
	return slices.IsSortedFunc(counts, Compare)
}

// FromMap flattens a phrase→count map into a sorted slice.
func FromMap(m map[string]uint64) []Count {
	out := make([]Count, 0, len(m))
	for p, n := range m {
		out = append(out, Count{Phrase: p, Count: n})
	}
	Sort(out)
	return out
}

// Split yields the phrases of record separated by delim, lazily and without
// trimming. An empty record yields a single empty phrase, and adjacent
// delimiters yield empty phrases between them.
func Split(record, delim string) iter.Seq[string] {
	return strings.SplitSeq(record, delim)
}
