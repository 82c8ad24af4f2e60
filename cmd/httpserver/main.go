// Command httpserver runs a small demonstration server on the engine:
// a JSON API under /api/v1, static files, response compression and
// caching, access logs and a Prometheus metrics endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"httpkit/internal/middleware"
	"httpkit/internal/pattern"
	"httpkit/internal/request"
	"httpkit/internal/response"
	"httpkit/internal/router"
	"httpkit/internal/server"
	"httpkit/internal/util"
)

type options struct {
	addr      string
	tlsAddr   string
	certFile  string
	keyFile   string
	staticDir string
	logLevel  string
	cacheTTL  time.Duration
	gzipLevel int
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "httpserver",
		Short: "Demo HTTP/1.1 server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "plaintext listen address")
	cmd.Flags().StringVar(&opts.tlsAddr, "tls-addr", "", "TLS listen address (requires --cert and --key)")
	cmd.Flags().StringVar(&opts.certFile, "cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&opts.keyFile, "key", "", "TLS key file")
	cmd.Flags().StringVar(&opts.staticDir, "static", "assets", "static file directory")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&opts.cacheTTL, "cache-ttl", 30*time.Second, "response cache TTL")
	cmd.Flags().IntVar(&opts.gzipLevel, "gzip-level", 0, "gzip compression level (0 = default)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(opts options) error {
	log, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	store := util.NewTTLCache[string, *middleware.Snapshot]()
	defer store.Stop()

	r := router.New()
	r.Use(
		middleware.AccessLog(log),
		middleware.Metrics(reg),
		middleware.Cookies(),
		middleware.BodyJSON(),
	)
	r.Get("/metrics", metricsHandler(reg))
	r.Use(middleware.Compress(middleware.CompressConfig{Level: opts.gzipLevel}))
	r.Use(middleware.Cache(store, opts.cacheTTL))

	api := router.New()
	api.Get("/items", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		return false, res.JSON(200, []int{1, 2, 3})
	})
	api.Get("/items/:id", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		return false, res.JSON(200, map[string]string{"id": m.Params["id"]})
	})
	api.Post("/items", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		body, _ := req.Lookup(middleware.BagKeyJSON)
		return false, res.JSON(201, map[string]any{"created": body})
	})
	r.MountAny("/api/v1/*", api)

	r.Get("/static/*", middleware.Static(opts.staticDir))
	r.Get("/", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		return false, res.HTML(200, "<html><body><h1>httpkit</h1></body></html>")
	})
	r.Any("/*", func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		return false, res.Text(404, "nothing here\n")
	})

	srv := server.New(r, server.WithLogger(log))
	if err := srv.Listen(opts.addr); err != nil {
		return err
	}
	if opts.tlsAddr != "" {
		if err := srv.ListenTLS(opts.tlsAddr, opts.certFile, opts.keyFile); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return srv.Close()
}

// metricsHandler renders the registry in the Prometheus text format.
func metricsHandler(reg *prometheus.Registry) router.HandlerFunc {
	return func(ctx context.Context, m *pattern.Match, req *request.Request, res *response.Writer) (bool, error) {
		mfs, err := reg.Gather()
		if err != nil {
			return false, err
		}
		if err := res.WriteStatus(200); err != nil {
			return false, err
		}
		if err := res.WriteHeader("content-type", string(expfmt.NewFormat(expfmt.TypeTextPlain))); err != nil {
			return false, err
		}
		if err := res.BeginBody(); err != nil {
			return false, err
		}
		enc := expfmt.NewEncoder(metricsBodyWriter{res}, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				return false, err
			}
		}
		return false, res.EndBody()
	}
}

type metricsBodyWriter struct{ res *response.Writer }

func (w metricsBodyWriter) Write(p []byte) (int, error) { return w.res.WriteBody(p) }
