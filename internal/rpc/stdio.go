package rpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"fixme/internal/logging"
)

// ReadyLine is written to the ready stream once the stdio loop accepts input.
const ReadyLine = "[FixMe Sidecar] Ready"

// LineReader reads newline-delimited messages.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. Lines longer than maxBytes are discarded and
// reported as ErrMessageTooLarge; maxBytes <= 0 means unbounded.
func NewLineReader(r io.Reader, maxBytes int) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), max: maxBytes}
}

// ReadMessage returns the next line without its terminator. A final line
// without a newline is still returned before io.EOF.
func (l *LineReader) ReadMessage() ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !oversized {
			line = append(line, chunk...)
			if l.max > 0 && len(bytes.TrimRight(line, "\r\n")) > l.max {
				oversized = true
				line = nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			return nil, ErrMessageTooLarge
		}
		if len(line) > 0 {
			return bytes.TrimSpace(line), nil
		}
		return nil, err
	}
}

// LineWriter writes one message per line.
type LineWriter struct {
	w io.Writer
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// WriteMessage writes data followed by a newline and flushes if supported.
func (l *LineWriter) WriteMessage(data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	if _, err := l.w.Write(buf); err != nil {
		return err
	}
	if f, ok := l.w.(interface{ Sync() error }); ok {
		// Pipes report EINVAL on fsync; ignore.
		_ = f.Sync()
	}
	return nil
}

// ServeStdio runs the dispatcher over line-delimited in/out streams and
// announces readiness on ready.
func ServeStdio(ctx context.Context, d *Dispatcher, in io.Reader, out, ready io.Writer) error {
	logging.RPC("stdio transport starting (%d methods)", len(d.Methods()))
	if ready != nil {
		if _, err := fmt.Fprintln(ready, ReadyLine); err != nil {
			return fmt.Errorf("write ready line: %w", err)
		}
	}
	err := d.Serve(ctx, NewLineReader(in, d.opts.MaxMessageBytes), NewLineWriter(out))
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.RPCError("stdio transport: %v", err)
		return err
	}
	logging.RPC("stdio transport stopped")
	return nil
}
