package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

// AccessLog logs one line per response, keyed off the status tap so the
// entry carries whatever status the chain eventually wrote.
func AccessLog(log *zap.Logger) router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		start := time.Now()
		method := string(req.Method)
		target := req.Target
		remote := req.RemoteAddr
		res.OnStatus(func(code int, phrase string) {
			log.Info("request",
				zap.String("method", method),
				zap.String("target", target),
				zap.String("remote_addr", remote),
				zap.Int("status", code),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
		return true, nil
	}
}
