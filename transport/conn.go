// Package transport carries the internal protocol between the broker and
// the UI-facing control surface: newline-delimited JSON over stdio, or
// one record per frame over a websocket.
package transport

import (
	"io"
	"os"

	"github.com/bazelment/agentbroker/internal/ndjson"
)

// Conn is one bidirectional record stream to a control surface.
type Conn interface {
	// ReadRecord returns the next inbound record.
	ReadRecord() ([]byte, error)

	// WriteRecord sends one outbound record. Safe for concurrent use.
	WriteRecord(b []byte) error

	// Close tears the stream down. ReadRecord unblocks with an error.
	Close() error
}

// stdioConn frames records as JSON lines over a reader/writer pair.
type stdioConn struct {
	reader *ndjson.Reader
	writer *ndjson.Writer
	closer io.Closer
}

// NewStdio returns a Conn over the process's own stdin and stdout. Log
// output must stay off stdout while this conn is in use.
func NewStdio() Conn {
	return NewPipe(os.Stdin, os.Stdout)
}

// NewPipe returns a Conn over an arbitrary reader/writer pair.
func NewPipe(r io.Reader, w io.Writer) Conn {
	conn := &stdioConn{
		reader: ndjson.NewReader(r),
		writer: ndjson.NewWriter(w),
	}
	if c, ok := r.(io.Closer); ok {
		conn.closer = c
	}
	return conn
}

func (c *stdioConn) ReadRecord() ([]byte, error) {
	return c.reader.ReadLine()
}

func (c *stdioConn) WriteRecord(b []byte) error {
	return c.writer.WriteLine(b)
}

func (c *stdioConn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
