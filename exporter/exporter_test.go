package exporter

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hnw/broute-meter-exporter/lineport"
	"github.com/hnw/broute-meter-exporter/modem"
	"github.com/hnw/broute-meter-exporter/scrape"
)

type fakeScraper struct {
	samples []scrape.Sample
	err     error
}

func (f *fakeScraper) Scrape() ([]scrape.Sample, error) { return f.samples, f.err }

func TestMetricsHandlerWritesPrometheusExposition(t *testing.T) {
	s := New(":0", &fakeScraper{samples: []scrape.Sample{
		{Name: "instantaneous_power", Value: 300},
	}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	ct := rec.Header().Get("Content-Type")
	if ct != "text/plain; version=0.0.4" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "instantaneous_power") || !strings.Contains(body, "300") {
		t.Fatalf("body = %q, want it to mention instantaneous_power and 300", body)
	}
}

func TestMetricsHandlerMapsTimeoutTo504(t *testing.T) {
	s := New(":0", &fakeScraper{err: fmt.Errorf("scrape: timed out: %w", modem.ErrTimeout)})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestMetricsHandlerMapsDisconnectedTo504(t *testing.T) {
	s := New(":0", &fakeScraper{err: fmt.Errorf("scrape: %w", lineport.ErrDisconnected)})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestMetricsHandlerMapsOtherErrorsTo500(t *testing.T) {
	s := New(":0", &fakeScraper{err: fmt.Errorf("scrape: decode failed")})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealthzOk(t *testing.T) {
	s := New(":0", &fakeScraper{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
