package chunk

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
)

// Reader is a cursor over a stats stream. Peek returns the record under the
// cursor without consuming it; Advance moves past it. When Peek reports
// false the stream is exhausted or failed, and Err tells which.
type Reader struct {
	br     *bufio.Reader
	closer io.Closer
	name   string
	delim  string

	cur  phrase.Count
	ok   bool
	line int64
	err  error
}

// NewReader returns a Reader over r positioned at its first record.
func NewReader(r io.Reader, name, delim string) *Reader {
	rd := &Reader{
		br:    bufferedReader(r),
		name:  name,
		delim: delim,
	}
	rd.load()
	return rd
}

// Open opens the chunk file at path.
func Open(path, delim string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk file: %w", err)
	}
	rd := NewReader(f, path, delim)
	rd.closer = f
	return rd, nil
}

// Peek returns the current record, or false if there is none.
func (r *Reader) Peek() (phrase.Count, bool) {
	return r.cur, r.ok
}

// Advance consumes the current record. It is a no-op once exhausted.
func (r *Reader) Advance() {
	if !r.ok {
		return
	}
	r.load()
}

// Err returns the read or parse error that ended the stream, if any.
func (r *Reader) Err() error {
	return r.err
}

// Name identifies the stream in error messages.
func (r *Reader) Name() string {
	return r.name
}

// Close releases the file behind a Reader returned by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

func (r *Reader) load() {
	r.ok = false
	r.cur = phrase.Count{}
	if r.err != nil {
		return
	}
	line, err := readLine(r.br)
	if err == io.EOF {
		return
	}
	r.line++
	if err != nil {
		r.err = fmt.Errorf("reading %s line %d: %w", r.name, r.line, err)
		return
	}
	c, err := Parse(line, r.delim)
	if err != nil {
		r.err = fmt.Errorf("%s line %d: %w", r.name, r.line, err)
		return
	}
	r.cur = c
	r.ok = true
}
