package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Kagami/internal/stats"
)

// Server exposes the local status and metrics endpoint. Read-only; it never
// feeds back into mining.
type Server struct {
	log  *zap.Logger
	agg  *stats.Aggregator
	http *http.Server
}

func NewServer(log *zap.Logger, addr string, agg *stats.Aggregator, metrics *stats.Metrics) *Server {
	s := &Server{log: log, agg: agg}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", s.http.Addr))
		errc <- s.http.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		stats.Snapshot
		UptimeSeconds float64 `json:"uptime_seconds"`
		CPUPercent    float64 `json:"cpu_percent"`
		MemoryUsed    uint64  `json:"memory_used"`
		TemperatureC  float64 `json:"temperature_c"`
	}{
		Snapshot:      snap,
		UptimeSeconds: snap.Uptime.Seconds(),
		CPUPercent:    snap.Hardware.CPUPercent,
		MemoryUsed:    snap.Hardware.MemoryUsed,
		TemperatureC:  snap.Hardware.TemperatureC,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("status encode failed", zap.Error(err))
	}
}
