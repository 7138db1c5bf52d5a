// Package ndjson reads and writes newline-delimited JSON streams.
//
// Agent CLIs emit one JSON record per line on stdout and accept the same
// framing on stdin. The reader reassembles lines from the underlying byte
// stream without imposing bufio.Scanner's token size limit, since tool
// results can exceed a megabyte on a single line.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// Reader pulls one JSON line at a time from an underlying stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next non-empty line without its trailing newline.
// Returns io.EOF when the stream ends. A final unterminated line is
// returned before EOF.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				return line, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// Writer serializes values as single JSON lines. Writes are serialized with
// a mutex: control responses are sent from a different goroutine than the
// turn loop that writes user envelopes.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteJSON marshals v and writes it followed by a newline.
func (w *Writer) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteLine(b)
}

// WriteLine writes a pre-serialized line followed by a newline.
func (w *Writer) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	_, err := w.w.Write([]byte{'\n'})
	return err
}
