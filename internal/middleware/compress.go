// Package middleware ships the handlers built on the engine's contracts:
// response compression, response caching, JSON body decoding, cookie
// decoding, access logging, metrics, virtual hosts and static files.
package middleware

import (
	"context"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

// CompressConfig tunes the compression middleware.
type CompressConfig struct {
	// Level is the gzip/deflate compression level; 0 means the codec
	// default.
	Level int
	// Prefer orders the codings offered to a client accepting several.
	// Defaults to gzip, zstd, deflate.
	Prefer []string
}

var defaultPrefer = []string{"gzip", "zstd", "deflate"}

// Compress negotiates a content coding from the Accept-Encoding header
// and pushes the matching encoder onto the response's body transform
// stack, which forces chunked transfer. Requests accepting none of the
// supported codings pass through untouched.
func Compress(cfg CompressConfig) router.HandlerFunc {
	prefer := cfg.Prefer
	if len(prefer) == 0 {
		prefer = defaultPrefer
	}
	level := cfg.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		accepted := req.Headers.TokenList("accept-encoding")
		coding, found := lo.Find(prefer, func(c string) bool {
			return lo.Contains(accepted, c)
		})
		if !found {
			return true, nil
		}

		var factory response.TransformFactory
		switch coding {
		case "gzip":
			factory = func(next io.Writer) (response.Transform, error) {
				w, err := gzip.NewWriterLevel(next, level)
				return w, err
			}
		case "deflate":
			factory = func(next io.Writer) (response.Transform, error) {
				w, err := flate.NewWriter(next, level)
				return w, err
			}
		case "zstd":
			factory = func(next io.Writer) (response.Transform, error) {
				w, err := zstd.NewWriter(next)
				return w, err
			}
		default:
			return true, nil
		}

		if err := res.PushTransform(factory); err != nil {
			return false, err
		}
		res.AddContentEncoding(coding)
		if err := res.WriteHeader("vary", "Accept-Encoding"); err != nil {
			return false, err
		}
		return true, nil
	}
}
