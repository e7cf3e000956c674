// Package status serves the device's health, metrics and live event feed.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drksbr/facecam/internal/logger"
)

type statusPayload struct {
	GeneratedAt   time.Time           `json:"generatedAt"`
	UptimeSeconds float64             `json:"uptimeSeconds"`
	LinkUp        bool                `json:"linkUp"`
	Counts        map[EventKind]int64 `json:"counts"`
	LastEvent     *Event              `json:"lastEvent,omitempty"`
	Subscribers   int                 `json:"subscribers"`
	Memory        memoryReport        `json:"memory"`
}

// Server records loop events and, when given a listen address, exposes
// /healthz, /status, /metrics and /events.
type Server struct {
	listen    string
	logger    *slog.Logger
	gatherer  prometheus.Gatherer
	footprint *Footprint
	hub       *hub
	started   time.Time

	mu     sync.RWMutex
	linkUp bool
	last   *Event
	counts map[EventKind]int64
}

func NewServer(listen string, gatherer prometheus.Gatherer, footprint *Footprint, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if gatherer == nil {
		gatherer = prometheus.NewRegistry()
	}
	return &Server{
		listen:    listen,
		logger:    log,
		gatherer:  gatherer,
		footprint: footprint,
		hub:       newHub(log),
		started:   time.Now(),
		counts:    make(map[EventKind]int64),
	}
}

// Publish records ev and forwards it to /events subscribers.
func (s *Server) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.mu.Lock()
	s.counts[ev.Kind]++
	s.linkUp = ev.Kind != EventReconnect
	evCopy := ev
	s.last = &evCopy
	s.mu.Unlock()

	s.hub.broadcast(ev)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events", s.hub.handleEvents)
	return mux
}

func (s *Server) collectStatus() statusPayload {
	s.mu.RLock()
	counts := make(map[EventKind]int64, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	var last *Event
	if s.last != nil {
		evCopy := *s.last
		last = &evCopy
	}
	linkUp := s.linkUp
	s.mu.RUnlock()

	return statusPayload{
		GeneratedAt:   time.Now(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		LinkUp:        linkUp,
		Counts:        counts,
		LastEvent:     last,
		Subscribers:   s.hub.subscribers(),
		Memory:        s.footprint.report(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.collectStatus()); err != nil {
		s.logger.Warn("encode status failed", "error", err)
	}
}

// Run serves until ctx is done. With no listen address it returns at once.
func (s *Server) Run(ctx context.Context) error {
	if s.listen == "" {
		return nil
	}
	s.footprint.Start(ctx)

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
