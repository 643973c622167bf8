package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Participants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catchd_participants",
		Help: "Connected participants",
	})

	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catchd_rounds_total",
		Help: "Rounds that reached a result",
	})

	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catchd_matches_total",
		Help: "Matches that ended",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catchd_tick_duration_seconds",
		Help:    "Time spent in one server tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05},
	})

	PacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catchd_packets_total",
		Help: "Collaborator packets by direction and type",
	}, []string{"direction", "type"})
)

// Handler serves the default Prometheus registry on /metrics.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ServeMetrics listens on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		return nil
	}
}
