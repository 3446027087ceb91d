// Package chunk reads and writes the line-oriented stats format shared by
// the aggregation output, the sorted chunk files, and the merged stream:
// one `<count><delim><phrase>` record per line.
package chunk

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
)

// readBufferSize is the bufio buffer used for every stats and input stream.
const readBufferSize = 64 << 10

// Append appends the stats line for c, without the trailing newline, to dst.
func Append(dst []byte, c phrase.Count, delim string) []byte {
	dst = strconv.AppendUint(dst, c.Count, 10)
	dst = append(dst, delim...)
	return append(dst, c.Phrase...)
}

// Format returns the stats line for c without the trailing newline.
func Format(c phrase.Count, delim string) string {
	return string(Append(nil, c, delim))
}

// Parse decodes one stats line. The count ends at the first delimiter and
// everything after it is the phrase; a line without a delimiter is a bare
// count with an empty phrase. A count that is not a non-negative decimal
// integer is an ErrMalformedRecord.
func Parse(line, delim string) (phrase.Count, error) {
	countText, p, _ := strings.Cut(line, delim)
	n, err := strconv.ParseUint(countText, 10, 64)
	if err != nil {
		return phrase.Count{}, fmt.Errorf("%w: bad count in %q", apperrors.ErrMalformedRecord, truncate(line))
	}
	return phrase.Count{Phrase: p, Count: n}, nil
}

// Lines yields the lines of r without their trailing '\n'. Lines may be of
// any length. A final line without a newline is still yielded; an empty
// stream yields nothing. Iteration stops at the first read error, which is
// yielded with an empty line.
func Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		br := bufferedReader(r)
		for {
			line, err := readLine(br)
			if err == io.EOF {
				return
			}
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

func bufferedReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReaderSize(r, readBufferSize)
}

// readLine returns the next line without its newline, or io.EOF once the
// stream is exhausted.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err == nil {
		return line[:len(line)-1], nil
	}
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return "", err
}

func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
