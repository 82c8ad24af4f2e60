package middleware

import (
	"context"
	"strings"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

// VHost routes by Host header. A matched host's router dispatches with
// the request's own path passed explicitly and the chain stops there;
// unmatched hosts fall through to the surrounding chain.
func VHost(hosts map[string]*router.Router) router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		host, ok := req.Headers.Get("host")
		if !ok {
			return true, nil
		}
		// Strip any port.
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		sub, ok := hosts[strings.ToLower(host)]
		if !ok {
			return true, nil
		}
		if _, err := sub.HandlePath(ctx, req.URI.Path, req, res); err != nil {
			return false, err
		}
		return false, nil
	}
}
