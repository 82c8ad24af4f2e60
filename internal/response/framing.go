package response

import (
	"fmt"
	"io"

	"httpkit/internal/httperr"
)

// chunkFramer frames each write as "<hex-length>\r\n<payload>\r\n" and
// terminates the body with "0\r\n\r\n" on Close.
type chunkFramer struct {
	w      io.Writer
	closed bool
}

func (c *chunkFramer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(c.w, "%x\r\n", len(p)); err != nil {
		return 0, httperr.Network(err)
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, httperr.Network(err)
	}
	if _, err := io.WriteString(c.w, "\r\n"); err != nil {
		return n, httperr.Network(err)
	}
	return n, nil
}

func (c *chunkFramer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if _, err := io.WriteString(c.w, "0\r\n\r\n"); err != nil {
		return httperr.Network(err)
	}
	return nil
}

// fixedFramer passes bytes straight through while enforcing the declared
// Content-Length: overruns and short bodies are programmer errors.
type fixedFramer struct {
	w         io.Writer
	remaining int64
}

func (f *fixedFramer) Write(p []byte) (int, error) {
	if int64(len(p)) > f.remaining {
		return 0, httperr.Invariant("body overruns declared content-length by %d bytes", int64(len(p))-f.remaining)
	}
	n, err := f.w.Write(p)
	f.remaining -= int64(n)
	if err != nil {
		return n, httperr.Network(err)
	}
	return n, nil
}

func (f *fixedFramer) Close() error {
	if f.remaining != 0 {
		return httperr.Invariant("body ended %d bytes short of declared content-length", f.remaining)
	}
	return nil
}
