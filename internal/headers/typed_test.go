package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"httpkit/internal/httperr"
)

func TestParseRange(t *testing.T) {
	r, err := ParseRange("bytes=0-499,500-,-200")
	require.NoError(t, err)
	assert.Equal(t, "bytes", r.Unit)
	require.Len(t, r.Specs, 3)

	assert.Equal(t, int64(0), *r.Specs[0].From)
	assert.Equal(t, int64(499), *r.Specs[0].To)
	assert.Equal(t, int64(500), *r.Specs[1].From)
	assert.Nil(t, r.Specs[1].To)
	assert.Nil(t, r.Specs[2].From)
	assert.Equal(t, int64(200), *r.Specs[2].To)

	for _, bad := range []string{"bytes", "items=0-1", "bytes=-", "bytes=a-b", "bytes=0_5"} {
		_, err := ParseRange(bad)
		require.Error(t, err, bad)
		_, ok := httperr.IsSyntax(err)
		assert.True(t, ok, bad)
	}
}

func TestParseContentRange(t *testing.T) {
	cr, err := ParseContentRange("bytes 0-499/1000")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cr.Start)
	assert.Equal(t, int64(499), cr.End)
	assert.True(t, cr.SizeKnown)
	assert.Equal(t, int64(1000), cr.Size)

	cr, err = ParseContentRange("bytes 10-20/*")
	require.NoError(t, err)
	assert.False(t, cr.SizeKnown)

	for _, bad := range []string{"0-499/1000", "items 0-1/2", "bytes 0499/1000", "bytes a-b/c"} {
		_, err := ParseContentRange(bad)
		require.Error(t, err, bad)
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"gzip", "deflate", "br"}, Tokens(" GZIP , deflate,br ,"))

	h := New()
	h.Add("Accept-Encoding", "gzip, Deflate")
	h.Add("accept-encoding", "zstd")
	assert.Equal(t, []string{"gzip", "deflate", "zstd"}, h.TokenList("accept-encoding"))
	assert.True(t, h.HasToken("accept-encoding", "ZSTD"))
	assert.False(t, h.HasToken("accept-encoding", "br"))
}

func TestParseContentType(t *testing.T) {
	ct, err := ParseContentType("text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "text/html", ct.MediaType)
	assert.Equal(t, "utf-8", ct.Charset)

	ct, err = ParseContentType("multipart/form-data; boundary=xyz; charset=ascii")
	require.NoError(t, err)
	assert.Equal(t, "xyz", ct.Boundary)
	assert.Equal(t, "ascii", ct.Charset)

	// Unknown parameter keys fail decoding.
	_, err = ParseContentType("text/html; version=5")
	require.Error(t, err)

	_, err = ParseContentType("text/html; charset=utf-8; boundary=a; extra=b")
	require.Error(t, err)

	_, err = ParseContentType("; charset=utf-8")
	require.Error(t, err)
}

func TestContentLength(t *testing.T) {
	h := New()
	_, present, err := h.ContentLength()
	require.NoError(t, err)
	assert.False(t, present)

	h.Set("Content-Length", "42")
	n, present, err := h.ContentLength()
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, int64(42), n)

	h.Set("Content-Length", "-1")
	_, _, err = h.ContentLength()
	require.Error(t, err)
}
