package chunk

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
)

// Writer serialises counts as stats lines in the order they are given. It
// never re-sorts; callers pass data already in the order they want on disk.
type Writer struct {
	bw      *bufio.Writer
	delim   string
	buf     []byte
	records int64

	// set only for writers created by Create
	file      *os.File
	tmpPath   string
	finalPath string
}

// NewWriter returns a Writer that writes to w. Call Flush when done.
func NewWriter(w io.Writer, delim string) *Writer {
	return &Writer{
		bw:    bufio.NewWriterSize(w, readBufferSize),
		delim: delim,
	}
}

// Create opens a chunk file for writing. Data goes to path+".part" and is
// renamed to path by Close, so a chunk file at path is always complete.
func Create(path, delim string) (*Writer, error) {
	tmpPath := path + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating chunk file: %w", err)
	}
	w := NewWriter(f, delim)
	w.file = f
	w.tmpPath = tmpPath
	w.finalPath = path
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(c phrase.Count) error {
	w.buf = Append(w.buf[:0], c, w.delim)
	w.buf = append(w.buf, '\n')
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	w.records++
	return nil
}

// WriteAll writes every record of seq in iteration order.
func (w *Writer) WriteAll(seq iter.Seq[phrase.Count]) error {
	for c := range seq {
		if err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// Records returns the number of records written so far.
func (w *Writer) Records() int64 {
	return w.records
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	return nil
}

// Close flushes and, for file writers, syncs, closes and publishes the file
// under its final name. On any failure the partial file is removed.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.file == nil {
		return err
	}
	if err == nil {
		if syncErr := w.file.Sync(); syncErr != nil {
			err = fmt.Errorf("syncing chunk file: %w", syncErr)
		}
	}
	if closeErr := w.file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("closing chunk file: %w", closeErr)
	}
	if err == nil {
		if renameErr := os.Rename(w.tmpPath, w.finalPath); renameErr != nil {
			err = fmt.Errorf("renaming chunk file: %w", renameErr)
		}
	}
	if err != nil {
		os.Remove(w.tmpPath)
	}
	w.file = nil
	return err
}

// Abort discards a file writer's partial output.
func (w *Writer) Abort() {
	if w.file == nil {
		return
	}
	w.file.Close()
	os.Remove(w.tmpPath)
	w.file = nil
}
