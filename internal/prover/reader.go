package prover

import (
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultPrompt marks the line carrying a response payload.
const DefaultPrompt = "REPL>"

// Frame is one response read from the prover.
type Frame struct {
	// Payload is the text following the prompt marker, trimmed.
	Payload string
	// Message holds the diagnostic lines printed before the payload.
	Message string
}

// FrameReader yields framed responses.
type FrameReader interface {
	Next() (Frame, error)
}

// ReaderOption configures a [Reader].
type ReaderOption func(*Reader)

// WithPrompt sets the prompt marker. Defaults to [DefaultPrompt].
func WithPrompt(prompt string) ReaderOption {
	return func(r *Reader) {
		if prompt != "" {
			r.prompt = prompt
		}
	}
}

// WithTimeout bounds how long Next waits for a frame. Zero or negative waits
// forever.
func WithTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) { r.timeout = d }
}

// WithLivenessCheck sets the check run after every prompt match. A non-nil
// error from check is returned by Next in place of the frame.
func WithLivenessCheck(check func() error) ReaderOption {
	return func(r *Reader) { r.checkAlive = check }
}

// Reader splits interleaved process output into frames. Next must not be
// called concurrently.
type Reader struct {
	chunks     chan []byte
	quit       chan struct{}
	quitOnce   sync.Once
	pending    string
	eof        bool
	prompt     string
	timeout    time.Duration
	checkAlive func() error
}

// NewReader starts reading from r in the background.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{
		chunks: make(chan []byte, 16),
		quit:   make(chan struct{}),
		prompt: DefaultPrompt,
	}
	for _, opt := range opts {
		opt(reader)
	}
	go reader.pump(r)
	return reader
}

// pump copies r into the chunk channel until r fails or the reader closes.
func (r *Reader) pump(src io.Reader) {
	defer close(r.chunks)
	buffer := make([]byte, 4096)
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			select {
			case r.chunks <- chunk:
			case <-r.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Next blocks until a frame is read. It returns io.EOF when the stream ends
// (or an empty line is read) and ErrTimeout when the timeout elapses.
func (r *Reader) Next() (Frame, error) {
	var timeout <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var lines []string
	for {
		frame, matched, err := r.scan(&lines)
		if err != nil {
			return Frame{}, err
		}
		if matched {
			return frame, nil
		}
		if r.eof {
			return Frame{}, io.EOF
		}

		select {
		case chunk, ok := <-r.chunks:
			if !ok {
				r.eof = true
				continue
			}
			r.pending += string(chunk)
		case <-timeout:
			return Frame{}, ErrTimeout
		}
	}
}

// scan consumes complete lines from the pending buffer, appending side lines
// to lines, until a prompt line is found or no complete line remains.
func (r *Reader) scan(lines *[]string) (Frame, bool, error) {
	for {
		nl := strings.IndexByte(r.pending, '\n')
		if nl < 0 {
			return Frame{}, false, nil
		}
		line := r.pending[:nl]
		r.pending = r.pending[nl+1:]

		idx := strings.Index(line, r.prompt)
		if idx < 0 {
			if line == "" {
				return Frame{}, false, io.EOF
			}
			*lines = append(*lines, strings.TrimSpace(line))
			continue
		}

		// the marker can be printed while the process is already dying
		if r.checkAlive != nil {
			if err := r.checkAlive(); err != nil {
				return Frame{}, false, err
			}
		}
		message := *lines
		if before := strings.TrimSpace(line[:idx]); before != "" {
			message = append(message, before)
		}
		return Frame{
			Payload: strings.TrimSpace(line[idx+len(r.prompt):]),
			Message: strings.Join(message, "\n"),
		}, true, nil
	}
}

// Close stops the background pump. The underlying reader is not closed.
func (r *Reader) Close() {
	r.quitOnce.Do(func() { close(r.quit) })
}
