package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var ready atomic.Bool

// SetReady flips the /readyz state; the worker marks itself ready once
// the consumer is attached to the queue and not-ready during shutdown.
func SetReady(v bool) { ready.Store(v) }

func newServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not consuming"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("consuming"))
	})
	return mux
}

// StartMetricsServer serves the posefeed_* registry plus liveness and
// readiness probes for the sequence worker.
func StartMetricsServer(ctx context.Context, port int, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: newServeMux(),
	}

	go func() {
		logger.Info("sequence worker metrics server starting",
			zap.Int("port", port),
			zap.Strings("endpoints", []string{"/metrics", "/healthz", "/readyz"}),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return srv
}
