package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quayio/pgreplicate/examples/kinesis"
	"github.com/quayio/pgreplicate/pkg/session"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Start streaming logical replication changes to the configured sink",
	RunE:  runStream,
}

func runStream(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Warn().Stringer("signal", sig).Msg("received signal, shutting down")
		session.Interrupt()
		cancel()
	}()

	var metrics *session.Metrics
	if cfg.Metrics.Enabled {
		metrics = session.NewMetrics(cfg.Metrics.Namespace)
		metrics.MustRegister(prometheus.DefaultRegisterer)
		go serveMetrics(ctx, cfg.Metrics.ListenAddr)
	}

	handler, err := kinesis.NewHandler(kinesis.Config{
		Stream:        cfg.Sink.Stream,
		IncludeTables: cfg.Sink.IncludeTables,
		ExcludeTables: cfg.Sink.ExcludeTables,
	}, logger)
	if err != nil {
		return err
	}

	sess := session.New(cfg.SessionConfig(), handler, session.WithLogger(logger), session.WithMetrics(metrics))
	if err := sess.Init(ctx); err != nil {
		return err
	}

	go periodicFlush(ctx, sess, handler)

	return sess.Stream(ctx)
}

// serveMetrics exposes the registered Prometheus collectors on
// addr + "/metrics", shutting down when ctx is cancelled, the same
// promhttp.Handler server shape edgeflare-pgo's pkg/metrics uses.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("starting metrics server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("metrics server error")
	}
}

// periodicFlush mirrors the teacher's FlushInterval ticker: force any
// batched-but-unsent Kinesis records out, then acknowledge the
// watermark they advance to, rather than waiting for the next batch
// to fill.
func periodicFlush(ctx context.Context, sess *session.Session, handler *kinesis.Handler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := handler.Flush(ctx); err != nil {
				logger.Warn().Err(err).Msg("periodic kinesis flush failed")
				continue
			}
			if err := sess.Acknowledge(ctx); err != nil {
				logger.Warn().Err(err).Msg("periodic acknowledge failed")
			}
		}
	}
}
