// Package exporter is the HTTP frontend: it calls the scraper once per
// request and formats the result as Prometheus text exposition, the way
// the console server wraps its domain managers in a gorilla/mux router.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/hnw/broute-meter-exporter/lineport"
	"github.com/hnw/broute-meter-exporter/modem"
	"github.com/hnw/broute-meter-exporter/scrape"
	"github.com/hnw/broute-meter-exporter/session"
)

// Scraper is the core's surface the frontend drives: one reading per call.
type Scraper interface {
	Scrape() ([]scrape.Sample, error)
}

// Server is the gorilla/mux-based HTTP frontend.
type Server struct {
	bind       string
	scraper    Scraper
	router     *mux.Router
	httpServer *http.Server
}

// New constructs a Server bound to bind, calling scraper once per
// /metrics request.
func New(bind string, scraper Scraper) *Server {
	s := &Server{
		bind:    bind,
		scraper: scraper,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := s.scraper.Scrape()
	if err != nil {
		status := statusForError(err)
		log.WithError(err).WithField("status", status).Error("exporter: scrape failed")
		http.Error(w, "scrape failed", status)
		return
	}

	set := metrics.NewSet()
	for _, sample := range samples {
		set.GetOrCreateGauge(sample.Name, nil).Set(float64(sample.Value))
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	set.WritePrometheus(w)
}

// statusForError maps the core's error taxonomy onto HTTP status codes:
// Timeout/Disconnected/ConnectionFailed become 504 Gateway Timeout since
// those mean the meter link itself is unavailable, everything else a
// generic 5xx.
func statusForError(err error) int {
	if errors.Is(err, modem.ErrTimeout) ||
		errors.Is(err, lineport.ErrDisconnected) ||
		errors.Is(err, session.ErrConnectionFailed) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails to start.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.bind,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("exporter: context done, shutting down HTTP server")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("exporter: listening on %s", s.bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		log.Info("exporter: HTTP server closed cleanly")
		return nil
	}
	return fmt.Errorf("exporter: HTTP server error: %w", err)
}
