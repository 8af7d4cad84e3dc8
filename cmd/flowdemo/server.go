package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vaadin/flow-sub072/pkg/config"
	"github.com/vaadin/flow-sub072/pkg/metrics"
	"github.com/vaadin/flow-sub072/signals"
	"go.uber.org/zap"
)

type server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// ticks is shared by every session and only written by the ticker, so
	// sessions see its changes as background changes.
	ticks    *signals.ValueSignal[int64]
	sessions atomic.Int64
}

func newServer(cfg *config.Config, logger *zap.Logger) *server {
	s := &server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if cfg.Metrics.Enabled {
		s.registry.MustRegister(collectors.NewGoCollector())
		s.metrics = metrics.New(
			metrics.WithRegistry(s.registry),
			metrics.WithNamespace(cfg.Metrics.Namespace),
		)
	}
	s.ticks = signals.NewValue[int64](0,
		signals.WithName("ticks"),
		signals.WithSignalMetrics(s.metrics),
	)
	return s
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleSession)
	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sess, err := s.newSession(conn)
	if err != nil {
		s.logger.Warn("session setup failed", zap.Error(err))
		conn.Close()
		return
	}
	sess.run(r.Context())
}

// tick advances the shared clock once.
func (s *server) tick() {
	s.ticks.Update(func(v int64) int64 {
		return v + 1
	})
}

// runTicker ticks until ctx is done. A zero interval disables it.
func (s *server) runTicker(ctx context.Context) error {
	if s.cfg.Demo.TickInterval == 0 {
		return nil
	}
	t := time.NewTicker(s.cfg.Demo.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.tick()
		}
	}
}
