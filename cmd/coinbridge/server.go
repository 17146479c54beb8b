package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lunaris-ai/coinbridge/internal/config"
	"github.com/lunaris-ai/coinbridge/internal/service"
	"github.com/lunaris-ai/coinbridge/internal/store"
)

// metricsServer serves /metrics and a lightweight /health in serve mode.
type metricsServer struct {
	srv    *http.Server
	logger zerolog.Logger
}

func newMetricsServer(cfg config.MetricsConfig, svc *service.Service, st *store.Store, logger zerolog.Logger) *metricsServer {
	mux := http.NewServeMux()

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status       string `json:"status"`
			Breakers     any    `json:"breakers"`
			StoreDropped int64  `json:"store_dropped"`
		}{
			Status:       "healthy",
			Breakers:     svc.BreakerSnapshots(),
			StoreDropped: st.Dropped(),
		}
		for _, snap := range svc.BreakerSnapshots() {
			if snap.State != "closed" {
				health.Status = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	return &metricsServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (m *metricsServer) start() error {
	m.logger.Info().Str("addr", m.srv.Addr).Msg("metrics server listening")
	if err := m.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (m *metricsServer) shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
