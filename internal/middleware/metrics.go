package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
)

// Metrics observes request counts and latencies through the response's
// status tap and registers the collectors with reg.
func Metrics(reg prometheus.Registerer) router.HandlerFunc {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "httpkit",
		Name:      "requests_total",
		Help:      "Requests served, by method and status code.",
	}, []string{"method", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "httpkit",
		Name:      "request_duration_seconds",
		Help:      "Time from dispatch to status emission.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	reg.MustRegister(requests, duration)

	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		start := time.Now()
		method := string(req.Method)
		res.OnStatus(func(code int, phrase string) {
			requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
			duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		})
		return true, nil
	}
}
