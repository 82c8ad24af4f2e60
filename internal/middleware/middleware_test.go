package middleware

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
	"httpkit/internal/util"
)

func parsedRequest(t *testing.T, raw string) *request.Request {
	t.Helper()
	req := request.New()
	req.Bind(strings.NewReader(raw))
	require.NoError(t, req.WaitHeaders())
	return req
}

// wireBody returns the bytes after the header terminator.
func wireBody(t *testing.T, wire string) string {
	t.Helper()
	_, body, ok := strings.Cut(wire, "\r\n\r\n")
	require.True(t, ok, wire)
	return body
}

// dechunk reassembles a chunked body.
func dechunk(t *testing.T, body string) []byte {
	t.Helper()
	var out []byte
	for {
		sizeLine, rest, ok := strings.Cut(body, "\r\n")
		require.True(t, ok, body)
		var size int
		for _, c := range sizeLine {
			size *= 16
			switch {
			case c >= '0' && c <= '9':
				size += int(c - '0')
			case c >= 'a' && c <= 'f':
				size += int(c-'a') + 10
			default:
				t.Fatalf("bad chunk size line %q", sizeLine)
			}
		}
		if size == 0 {
			return out
		}
		out = append(out, rest[:size]...)
		body = rest[size+2:]
	}
}

func TestCompressGzip(t *testing.T) {
	req := parsedRequest(t, "GET /data HTTP/1.1\r\nHost: x\r\nAccept-Encoding: gzip\r\n\r\n")
	var buf bytes.Buffer
	res := response.NewWriter(&buf)

	mw := Compress(CompressConfig{})
	cont, err := mw(context.Background(), &pattern.Match{}, req, res)
	require.NoError(t, err)
	assert.True(t, cont)

	require.NoError(t, res.Buffer(200, "application/json", []byte("[1,2,3]")))

	wire := buf.String()
	assert.Contains(t, wire, "content-encoding: gzip\r\n")
	assert.Contains(t, wire, "transfer-encoding: chunked\r\n")
	assert.Contains(t, wire, "vary: Accept-Encoding\r\n")
	assert.NotContains(t, wire, "content-length")

	zr, err := gzip.NewReader(bytes.NewReader(dechunk(t, wireBody(t, wire))))
	require.NoError(t, err)
	var plain bytes.Buffer
	_, err = plain.ReadFrom(zr)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", plain.String())
}

func TestCompressSkipsUnsupportedCodings(t *testing.T) {
	req := parsedRequest(t, "GET /data HTTP/1.1\r\nHost: x\r\nAccept-Encoding: br\r\n\r\n")
	var buf bytes.Buffer
	res := response.NewWriter(&buf)

	cont, err := Compress(CompressConfig{})(context.Background(), &pattern.Match{}, req, res)
	require.NoError(t, err)
	assert.True(t, cont)

	require.NoError(t, res.Text(200, "plain"))
	wire := buf.String()
	assert.NotContains(t, wire, "content-encoding")
	assert.Contains(t, wire, "content-length: 5\r\n")
}

func TestCacheMissThenHit(t *testing.T) {
	store := util.NewTTLCache[string, *Snapshot]()
	defer store.Stop()
	mw := Cache(store, time.Minute)

	handlerRuns := 0
	handler := func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		handlerRuns++
		if err := res.WriteStatus(200); err != nil {
			return false, err
		}
		if err := res.WriteHeader("content-type", "text/plain"); err != nil {
			return false, err
		}
		if _, err := res.WriteBody([]byte("cached payload")); err != nil {
			return false, err
		}
		return false, res.EndBody()
	}

	r := router.New()
	r.Use(mw)
	r.Get("/thing", handler)

	// Miss: handler runs, snapshot is stored.
	req := parsedRequest(t, "GET /thing HTTP/1.1\r\nHost: x\r\n\r\n")
	var missBuf bytes.Buffer
	_, err := r.Handle(context.Background(), req, response.NewWriter(&missBuf))
	require.NoError(t, err)
	assert.Equal(t, 1, handlerRuns)
	assert.Equal(t, 1, store.Len())

	// Hit: served from the snapshot, handler untouched.
	req2 := parsedRequest(t, "GET /thing HTTP/1.1\r\nHost: x\r\n\r\n")
	var hitBuf bytes.Buffer
	_, err = r.Handle(context.Background(), req2, response.NewWriter(&hitBuf))
	require.NoError(t, err)
	assert.Equal(t, 1, handlerRuns)

	hit := hitBuf.String()
	assert.True(t, strings.HasPrefix(hit, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, hit, "content-type: text/plain\r\n")
	assert.Contains(t, hit, "content-length: 14\r\n")
	assert.True(t, strings.HasSuffix(hit, "cached payload"))
	// Snapshot replay carries fresh per-connection headers, not stale ones.
	assert.Equal(t, 1, strings.Count(hit, "date:"))
}

func TestCacheIgnoresNonGet(t *testing.T) {
	store := util.NewTTLCache[string, *Snapshot]()
	defer store.Stop()

	req := parsedRequest(t, "POST /thing HTTP/1.1\r\nHost: x\r\n\r\n")
	var buf bytes.Buffer
	res := response.NewWriter(&buf)
	cont, err := Cache(store, time.Minute)(context.Background(), &pattern.Match{}, req, res)
	require.NoError(t, err)
	assert.True(t, cont)
	require.NoError(t, res.Text(200, "x"))
	assert.Zero(t, store.Len())
}

func TestBodyJSON(t *testing.T) {
	raw := "POST /items HTTP/1.1\r\nHost: x\r\nContent-Type: application/json\r\nContent-Length: 13\r\n\r\n{\"name\":\"go\"}"
	req := parsedRequest(t, raw)
	var buf bytes.Buffer
	res := response.NewWriter(&buf)

	cont, err := BodyJSON()(context.Background(), &pattern.Match{}, req, res)
	require.NoError(t, err)
	assert.True(t, cont)

	v, ok := req.Lookup(BagKeyJSON)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "go"}, v)
}

func TestBodyJSONRejectsGarbage(t *testing.T) {
	raw := "POST /items HTTP/1.1\r\nHost: x\r\nContent-Type: application/json\r\nContent-Length: 3\r\n\r\n{{{"
	req := parsedRequest(t, raw)
	_, err := BodyJSON()(context.Background(), &pattern.Match{}, req, response.NewWriter(&bytes.Buffer{}))
	require.Error(t, err)
}

func TestBodyJSONSkipsOtherContentTypes(t *testing.T) {
	raw := "POST /items HTTP/1.1\r\nHost: x\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nhi"
	req := parsedRequest(t, raw)
	cont, err := BodyJSON()(context.Background(), &pattern.Match{}, req, response.NewWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.True(t, cont)
	_, ok := req.Lookup(BagKeyJSON)
	assert.False(t, ok)
}

func TestCookies(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nCookie: session=abc%20def; theme=dark\r\n\r\n"
	req := parsedRequest(t, raw)

	cont, err := Cookies()(context.Background(), &pattern.Match{}, req, response.NewWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.True(t, cont)

	v, ok := req.Lookup(BagKeyCookies)
	require.True(t, ok)
	cookies := v.(map[string]string)
	assert.Equal(t, "abc def", cookies["session"])
	assert.Equal(t, "dark", cookies["theme"])
}

func TestVHost(t *testing.T) {
	apiCalled := false
	api := router.New()
	api.Get("/ping", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		apiCalled = true
		return false, res.Text(200, "pong")
	})

	r := router.New()
	r.Use(VHost(map[string]*router.Router{"api.example.com": api}))
	fallthroughCalled := false
	r.Get("/ping", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		fallthroughCalled = true
		return false, res.Text(200, "root")
	})

	req := parsedRequest(t, "GET /ping HTTP/1.1\r\nHost: api.example.com:8080\r\n\r\n")
	var buf bytes.Buffer
	_, err := r.Handle(context.Background(), req, response.NewWriter(&buf))
	require.NoError(t, err)
	assert.True(t, apiCalled)
	assert.False(t, fallthroughCalled)

	req2 := parsedRequest(t, "GET /ping HTTP/1.1\r\nHost: other.example.com\r\n\r\n")
	var buf2 bytes.Buffer
	_, err = r.Handle(context.Background(), req2, response.NewWriter(&buf2))
	require.NoError(t, err)
	assert.True(t, fallthroughCalled)
}

func TestMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Metrics(reg)

	req := parsedRequest(t, "GET /x HTTP/1.1\r\nHost: x\r\n\r\n")
	var buf bytes.Buffer
	res := response.NewWriter(&buf)
	_, err := mw(context.Background(), &pattern.Match{}, req, res)
	require.NoError(t, err)
	require.NoError(t, res.Text(200, "ok"))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "httpkit_requests_total")
	assert.Contains(t, names, "httpkit_request_duration_seconds")
}

func TestAccessLogDoesNotBreakChain(t *testing.T) {
	req := parsedRequest(t, "GET /x HTTP/1.1\r\nHost: x\r\n\r\n")
	var buf bytes.Buffer
	res := response.NewWriter(&buf)
	cont, err := AccessLog(zap.NewNop())(context.Background(), &pattern.Match{}, req, res)
	require.NoError(t, err)
	assert.True(t, cont)
	require.NoError(t, res.Text(200, "ok"))
}
