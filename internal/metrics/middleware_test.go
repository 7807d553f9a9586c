package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func durationSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	obs, err := httpRequestDurationSeconds.GetMetricWithLabelValues(method, route)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, obs.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMiddlewareLabelsChiRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/task/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/saved-pois/{keyword}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))
	taskBefore := durationSamples(t, http.MethodGet, "/api/task/{id}")
	savedBefore := durationSamples(t, http.MethodGet, "/api/saved-pois/{keyword}")

	for _, path := range []string{"/api/task/coffee-1", "/api/task/coffee-2", "/api/saved-pois/tea"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0)
	require.InDelta(t, missBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")), 0)
	require.Equal(t, taskBefore+2, durationSamples(t, http.MethodGet, "/api/task/{id}"))
	require.Equal(t, savedBefore+1, durationSamples(t, http.MethodGet, "/api/saved-pois/{keyword}"))
}

func TestMiddlewareOutsideChiReportsUnknownRoute(t *testing.T) {
	Init()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	before := durationSamples(t, http.MethodPost, "unknown")
	acceptedBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bulk-search", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, before+1, durationSamples(t, http.MethodPost, "unknown"))
	require.InDelta(t, acceptedBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202")), 0)
}
