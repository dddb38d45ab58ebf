package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/api/test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var foundRequestsTotal, foundDuration bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "test_http_requests_total":
			foundRequestsTotal = true
		case "test_http_request_duration_seconds":
			foundDuration = true
		}
	}
	assert.True(t, foundRequestsTotal, "http_requests_total metric should be recorded")
	assert.True(t, foundDuration, "http_request_duration metric should be recorded")
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/test", "200")))
}

func TestMetrics_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		label      string
	}{
		{"200 OK", http.StatusOK, "200"},
		{"422 failed receipt", http.StatusUnprocessableEntity, "422"},
		{"503 breaker open", http.StatusServiceUnavailable, "503"},
		{"504 timed out", http.StatusGatewayTimeout, "504"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics("test", prometheus.NewRegistry())

			r := chi.NewRouter()
			r.Use(Metrics(metrics))
			r.Post("/receipts", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/receipts", nil))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, 1.0, promtest.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/receipts", tt.label)))
		})
	}
}

func TestMetrics_RoutePattern(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/receipts/{id}", func(w http.ResponseWriter, r *http.Request) {})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/receipts/"+id, nil))
	}

	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/receipts/{id}", "200")))
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.HTTPRequestsTotal))
}

func TestMetrics_NoRoutePattern(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())

	handler := Metrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown/123", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
