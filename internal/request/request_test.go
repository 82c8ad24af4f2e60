package request

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"httpkit/internal/httperr"
)

// chunkReader feeds its data numBytesPerRead bytes at a time, simulating
// a slow transport.
type chunkReader struct {
	data            string
	numBytesPerRead int
	pos             int
}

func (cr *chunkReader) Read(p []byte) (n int, err error) {
	if cr.pos >= len(cr.data) {
		return 0, io.EOF
	}
	end := cr.pos + cr.numBytesPerRead
	if end > len(cr.data) {
		end = len(cr.data)
	}
	n = copy(p, cr.data[cr.pos:end])
	cr.pos += n
	return n, nil
}

func parseHeadersFrom(t *testing.T, data string, perRead int) *Request {
	t.Helper()
	r := New()
	r.Bind(&chunkReader{data: data, numBytesPerRead: perRead})
	require.NoError(t, r.WaitHeaders())
	return r
}

func TestRequestLineParse(t *testing.T) {
	// Good GET request line, tiny reads.
	for _, perRead := range []int{1, 2, 3, 512} {
		r := parseHeadersFrom(t, "GET /coffee HTTP/1.1\r\nHost: localhost:42069\r\n\r\n", perRead)
		assert.Equal(t, MethodGet, r.Method)
		assert.Equal(t, "/coffee", r.Target)
		assert.Equal(t, "/coffee", r.URI.Path)
		assert.Equal(t, "1.1", r.Version)
	}

	// Query and fragment flow into the URI.
	r := parseHeadersFrom(t, "GET /items?limit=10&q=a%20b HTTP/1.1\r\nHost: x\r\n\r\n", 3)
	assert.Equal(t, "10", r.URI.Query["limit"])
	assert.Equal(t, "a b", r.URI.Query["q"])

	// Invalid number of parts.
	req := New()
	req.Bind(&chunkReader{data: "/coffee HTTP/1.1\r\nHost: x\r\n\r\n", numBytesPerRead: 1})
	err := req.WaitHeaders()
	require.Error(t, err)
	_, ok := httperr.IsSyntax(err)
	assert.True(t, ok)

	// Unrecognized method.
	req = New()
	req.Bind(&chunkReader{data: "BREW /coffee HTTP/1.1\r\n\r\n", numBytesPerRead: 4})
	_, ok = httperr.IsSyntax(req.WaitHeaders())
	assert.True(t, ok)

	// Unsupported version carries the offending token.
	req = New()
	req.Bind(&chunkReader{data: "GET / HTTP/2.0\r\nHost: x\r\n\r\n", numBytesPerRead: 5})
	err = req.WaitHeaders()
	ve, ok := httperr.IsVersion(err)
	require.True(t, ok)
	assert.Equal(t, "HTTP/2.0", ve.Token)
}

func TestRequestHeaders(t *testing.T) {
	r := parseHeadersFrom(t, "GET / HTTP/1.1\r\nHost: localhost:42069\r\nUser-Agent: curl/7.81.0\r\nAccept: */*\r\nAccept: text/html\r\n\r\n", 3)

	host, _ := r.Headers.Get("host")
	assert.Equal(t, "localhost:42069", host)
	ua, _ := r.Headers.Get("user-agent")
	assert.Equal(t, "curl/7.81.0", ua)
	// Repeated keys keep both values in order.
	assert.Equal(t, []string{"*/*", "text/html"}, r.Headers.Values("accept"))

	// Malformed header.
	req := New()
	req.Bind(&chunkReader{data: "GET / HTTP/1.1\r\nHost localhost\r\n\r\n", numBytesPerRead: 3})
	se, ok := httperr.IsSyntax(req.WaitHeaders())
	require.True(t, ok)
	assert.Equal(t, httperr.SourceRequestHeaders, se.Source)
}

func TestLifecycleEvents(t *testing.T) {
	r := New()
	var events []string
	r.OnLineLoaded(func() { events = append(events, "line") })
	r.OnHeadersLoaded(func() { events = append(events, "headers") })
	r.OnBodyLoaded(func() { events = append(events, "body") })
	r.OnFinished(func() { events = append(events, "finished") })

	r.Bind(&chunkReader{data: "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello", numBytesPerRead: 4})
	require.NoError(t, r.WaitHeaders())
	assert.Equal(t, []string{"line", "headers"}, events)

	body := NewBufferedBody(5)
	require.NoError(t, r.SetBody(body))
	require.NoError(t, r.WaitBody())
	assert.Equal(t, []byte("hello"), body.Bytes())

	require.NoError(t, r.Finish())
	assert.Equal(t, []string{"line", "headers", "body", "finished"}, events)
	assert.Equal(t, StateFinished, r.State())

	// Finish is idempotent; no second finished event.
	require.NoError(t, r.Finish())
	assert.Equal(t, []string{"line", "headers", "body", "finished"}, events)
}

func TestEmptyBody(t *testing.T) {
	r := parseHeadersFrom(t, "POST /x HTTP/1.1\r\nContent-Length: 0\r\n\r\n", 3)
	body := NewBufferedBody(0)
	require.NoError(t, r.SetBody(body))
	assert.True(t, body.Saturated())
	require.NoError(t, r.Finish())
}

func TestNoEventUntilTerminatorArrives(t *testing.T) {
	r := New()
	var headersLoaded bool
	r.OnHeadersLoaded(func() { headersLoaded = true })

	require.NoError(t, r.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n")))
	assert.False(t, headersLoaded)
	require.NoError(t, r.Feed([]byte("\r\n")))
	assert.True(t, headersLoaded)
}

func TestPipelining(t *testing.T) {
	data := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	r := New()
	var finished int
	r.OnFinished(func() { finished++ })
	// One large read leaves the second request sitting in the accumulator.
	r.Bind(&chunkReader{data: data, numBytesPerRead: len(data)})

	require.NoError(t, r.WaitHeaders())
	assert.Equal(t, "/a", r.URI.Path)
	require.NoError(t, r.Finish())

	// Next resets and replays the leftover bytes without reading.
	require.NoError(t, r.Next())
	assert.Equal(t, "/b", r.URI.Path)
	require.NoError(t, r.Finish())
	assert.Equal(t, 2, finished)

	require.NoError(t, r.Next())
	assert.Equal(t, io.EOF, r.WaitHeaders())
}

func TestWaitBodyWithoutBodyIsInvariant(t *testing.T) {
	r := parseHeadersFrom(t, "POST /x HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc", 6)
	err := r.WaitBody()
	require.Error(t, err)
	assert.True(t, httperr.IsInvariant(err))
}

func TestBufferedBody(t *testing.T) {
	b := NewBufferedBody(5)
	n, err := b.Update([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, b.Saturated())

	// Over-long chunks are only consumed up to the expected size.
	n, err = b.Update([]byte("cdefg"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, b.Saturated())
	assert.Equal(t, "abcde", string(b.Bytes()))
}
