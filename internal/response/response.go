// Package response implements the streaming response writer. A writer
// advances through four states (status, headers, body, finished), picks
// fixed-length or chunked transfer encoding when the body phase starts,
// and routes body bytes through caller-registered transform stages before
// framing. Taps observe the status line and every emitted header.
package response

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"go.uber.org/multierr"

	"httpkit/internal/headers"
	"httpkit/internal/httperr"
	"httpkit/internal/util"
)

// State is the writer's position inside one response. It only ever
// advances.
type State int

const (
	StateWritingStatus State = iota
	StateWritingHeaders
	StateWritingBody
	StateFinished
)

// Transform is one stage of the body pipeline. Close must flush any
// buffered bytes into the next stage; it must not close the next stage.
type Transform interface {
	io.WriteCloser
}

// TransformFactory builds a transform stage over the next writer in the
// chain. Factories run lazily when the body phase starts.
type TransformFactory func(next io.Writer) (Transform, error)

// StatusTap observes the status line once it is written.
type StatusTap func(code int, phrase string)

// HeaderTap observes each header in the order it reaches the wire.
type HeaderTap func(key, value string)

type enqueuedHeader struct {
	key   string
	value string
}

// Writer emits one HTTP/1.1 response onto a transport.
type Writer struct {
	conn  io.Writer
	state State

	statusCode  int
	enqueued    util.Queue[enqueuedHeader]
	writtenKeys map[string]bool

	bodySize    int64
	hasBodySize bool
	excludeBody bool
	keepAlive   bool
	serverIdent string
	now         func() time.Time

	transferEncodings []string
	contentEncodings  []string

	transforms    []TransformFactory
	rawTransforms []TransformFactory

	sink        io.Writer // head of the body chain once built
	bodyClosers []io.Closer
	rawClosers  []io.Closer
	framer      io.Closer
	chunked     bool

	statusTaps []StatusTap
	headerTaps []HeaderTap
}

// Option configures a Writer.
type Option func(*Writer)

// WithServerIdent overrides the Server header value. An empty ident
// keeps the default.
func WithServerIdent(ident string) Option {
	return func(w *Writer) {
		if ident != "" {
			w.serverIdent = ident
		}
	}
}

// WithClock overrides the Date header clock.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a response writer over the transport.
func NewWriter(conn io.Writer, opts ...Option) *Writer {
	w := &Writer{
		conn:        conn,
		keepAlive:   true,
		serverIdent: fmt.Sprintf("httpkit (%s)", runtime.GOOS),
		now:         time.Now,
		writtenKeys: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the writer state.
func (w *Writer) State() State { return w.state }

// StatusCode returns the emitted status code, or 0 before the status
// line is written.
func (w *Writer) StatusCode() int { return w.statusCode }

// SetBodySize declares the exact body size in bytes, enabling
// fixed-length transmission when no body transform is attached.
func (w *Writer) SetBodySize(n int64) {
	w.bodySize = n
	w.hasBodySize = true
}

// SetExcludeBody marks the response as body-suppressed (HEAD): headers
// are emitted as a GET would produce them, body bytes are discarded.
func (w *Writer) SetExcludeBody(v bool) { w.excludeBody = v }

// ExcludeBody reports the body-suppression flag.
func (w *Writer) ExcludeBody() bool { return w.excludeBody }

// SetKeepAlive records the connection preference echoed in the
// Connection header. The default is keep-alive.
func (w *Writer) SetKeepAlive(v bool) { w.keepAlive = v }

// KeepAlive reports the connection preference.
func (w *Writer) KeepAlive() bool { return w.keepAlive }

// PushTransform appends a body transform stage. The last transform
// pushed is the outermost: caller bytes flow newest to oldest, then into
// the framer. Attaching any transform forces chunked transfer encoding.
func (w *Writer) PushTransform(f TransformFactory) error {
	if w.state >= StateWritingBody {
		return httperr.Invariant("transform pushed in state %d", w.state)
	}
	w.transforms = append(w.transforms, f)
	return nil
}

// pushRawTransform appends a stage between the framer and the socket.
// The capability is internal; no exported middleware registers raw
// stages.
func (w *Writer) pushRawTransform(f TransformFactory) error {
	if w.state >= StateWritingBody {
		return httperr.Invariant("raw transform pushed in state %d", w.state)
	}
	w.rawTransforms = append(w.rawTransforms, f)
	return nil
}

// AddContentEncoding records a Content-Encoding token emitted with the
// default headers.
func (w *Writer) AddContentEncoding(token string) {
	w.contentEncodings = append(w.contentEncodings, strings.ToLower(token))
}

// AddTransferEncoding records a Transfer-Encoding token emitted before
// the terminal "chunked".
func (w *Writer) AddTransferEncoding(token string) {
	w.transferEncodings = append(w.transferEncodings, strings.ToLower(token))
}

// OnStatus registers a status-line tap.
func (w *Writer) OnStatus(fn StatusTap) { w.statusTaps = append(w.statusTaps, fn) }

// OnHeader registers a header tap. Taps fire in the order headers are
// written, including the defaults.
func (w *Writer) OnHeader(fn HeaderTap) { w.headerTaps = append(w.headerTaps, fn) }

// WriteStatus emits the status line. The phrase is optional; without one
// a canonical phrase is chosen, and an unknown code fails. Headers
// enqueued beforehand are flushed right after the line.
func (w *Writer) WriteStatus(code int, phrase ...string) error {
	if w.state != StateWritingStatus {
		return httperr.Invariant("status written in state %d", w.state)
	}

	reason := ""
	if len(phrase) > 0 {
		reason = phrase[0]
	} else {
		p, ok := Phrase(code)
		if !ok {
			return httperr.Invariant("no canonical phrase for status %d", code)
		}
		reason = p
	}

	if _, err := fmt.Fprintf(w.conn, "HTTP/1.1 %d %s\r\n", code, reason); err != nil {
		return httperr.Network(err)
	}
	w.statusCode = code
	w.state = StateWritingHeaders
	for _, tap := range w.statusTaps {
		tap(code, reason)
	}

	for {
		eh, ok := w.enqueued.Dequeue()
		if !ok {
			break
		}
		if err := w.emitHeader(eh.key, eh.value); err != nil {
			return err
		}
	}
	return nil
}

// WriteHeader emits one header. Before the status line it is enqueued
// and flushed with the line; afterwards it goes straight to the wire.
// Writing headers once the body phase has started is an error.
func (w *Writer) WriteHeader(key, value string) error {
	switch w.state {
	case StateWritingStatus:
		w.enqueued.Enqueue(enqueuedHeader{key: strings.ToLower(key), value: value})
		w.writtenKeys[strings.ToLower(key)] = true
		return nil
	case StateWritingHeaders:
		return w.emitHeader(strings.ToLower(key), value)
	default:
		return httperr.Invariant("header written in state %d", w.state)
	}
}

func (w *Writer) emitHeader(key, value string) error {
	if _, err := fmt.Fprintf(w.conn, "%s: %s\r\n", key, value); err != nil {
		return httperr.Network(err)
	}
	w.writtenKeys[key] = true
	for _, tap := range w.headerTaps {
		tap(key, value)
	}
	return nil
}

// BeginBody closes the header block and enters the body phase. The
// transfer encoding is decided here: chunked when the body size is
// unknown or any body transform is attached, fixed-length otherwise.
// Idempotent once the body phase has started. For body-suppressed
// responses the writer jumps straight to Finished.
func (w *Writer) BeginBody() error {
	switch w.state {
	case StateWritingBody:
		return nil
	case StateFinished:
		if w.excludeBody {
			return nil
		}
		return httperr.Invariant("body started in state %d", w.state)
	case StateWritingStatus:
		return httperr.Invariant("body started before status line")
	}

	w.chunked = !w.hasBodySize || len(w.transforms) > 0

	if err := w.writeDefaultHeaders(); err != nil {
		return err
	}
	if _, err := io.WriteString(w.conn, "\r\n"); err != nil {
		return httperr.Network(err)
	}

	if w.excludeBody {
		w.state = StateFinished
		return nil
	}

	// Raw stages sit between the framer and the socket.
	raw := w.conn
	for _, f := range w.rawTransforms {
		t, err := f(raw)
		if err != nil {
			return err
		}
		w.rawClosers = append(w.rawClosers, t)
		raw = t
	}

	var framer interface {
		io.Writer
		io.Closer
	}
	if w.chunked {
		framer = &chunkFramer{w: raw}
	} else {
		framer = &fixedFramer{w: raw, remaining: w.bodySize}
	}
	w.framer = framer

	// Body stages wrap oldest-first so the last transform pushed ends
	// up outermost.
	sink := io.Writer(framer)
	for _, f := range w.transforms {
		t, err := f(sink)
		if err != nil {
			return err
		}
		w.bodyClosers = append(w.bodyClosers, t)
		sink = t
	}
	w.sink = sink
	w.state = StateWritingBody
	return nil
}

func (w *Writer) writeDefaultHeaders() error {
	defaults := []enqueuedHeader{
		{"date", w.now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")},
		{"server", w.serverIdent},
	}
	if w.keepAlive {
		defaults = append(defaults, enqueuedHeader{"connection", "keep-alive"})
	} else {
		defaults = append(defaults, enqueuedHeader{"connection", "close"})
	}
	for _, d := range defaults {
		if w.writtenKeys[d.key] {
			continue
		}
		if err := w.emitHeader(d.key, d.value); err != nil {
			return err
		}
	}

	if len(w.contentEncodings) > 0 && !w.writtenKeys["content-encoding"] {
		if err := w.emitHeader("content-encoding", strings.Join(w.contentEncodings, ", ")); err != nil {
			return err
		}
	}

	if w.chunked {
		tokens := append(w.transferEncodings, "chunked")
		if err := w.emitHeader("transfer-encoding", strings.Join(tokens, ", ")); err != nil {
			return err
		}
	} else if !w.writtenKeys["content-length"] {
		if err := w.emitHeader("content-length", fmt.Sprintf("%d", w.bodySize)); err != nil {
			return err
		}
	}
	return nil
}

// WriteBody sends body bytes through the transform chain. The body phase
// starts implicitly on the first call. Body-suppressed responses accept
// and discard the bytes.
func (w *Writer) WriteBody(p []byte) (int, error) {
	if w.state == StateWritingHeaders {
		if err := w.BeginBody(); err != nil {
			return 0, err
		}
	}
	if w.excludeBody && w.state == StateFinished {
		return len(p), nil
	}
	if w.state != StateWritingBody {
		return 0, httperr.Invariant("body written in state %d", w.state)
	}
	n, err := w.sink.Write(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

// EndBody flushes every transform stage, emits the final framing, and
// moves the response to Finished.
func (w *Writer) EndBody() error {
	if w.state == StateWritingHeaders {
		if err := w.BeginBody(); err != nil {
			return err
		}
	}
	if w.excludeBody && w.state == StateFinished {
		return nil
	}
	if w.state != StateWritingBody {
		return httperr.Invariant("body ended in state %d", w.state)
	}

	// Stages flush newest to oldest, then the framer terminates, then
	// any raw stages flush.
	var err error
	for i := len(w.bodyClosers) - 1; i >= 0; i-- {
		err = multierr.Append(err, w.bodyClosers[i].Close())
	}
	err = multierr.Append(err, w.framer.Close())
	for i := len(w.rawClosers) - 1; i >= 0; i-- {
		err = multierr.Append(err, w.rawClosers[i].Close())
	}
	w.state = StateFinished
	return err
}

// headerKeyWritten reports whether key already reached the wire or the
// enqueue buffer; conveniences use it to avoid clobbering caller values.
func (w *Writer) headerKeyWritten(key string) bool {
	return w.writtenKeys[strings.ToLower(key)]
}

// CopyHeaders writes every pair of h in order.
func (w *Writer) CopyHeaders(h *headers.Headers) error {
	var err error
	h.Each(func(k, v string) {
		if err != nil {
			return
		}
		err = w.WriteHeader(k, v)
	})
	return err
}
