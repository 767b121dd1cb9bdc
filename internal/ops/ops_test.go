package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abjtutorial/tutorbot/core/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	healthy := New(":0", metrics.New(), map[string]Check{
		"store": func(context.Context) error { return nil },
	})
	rec := get(t, healthy.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["store"])

	broken := New(":0", nil, map[string]Check{
		"store":   func(context.Context) error { return nil },
		"archive": func(context.Context) error { return errors.New("bucket unreachable") },
	})
	rec = get(t, broken.Handler(), "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "bucket unreachable", body.Checks["archive"])
}

func TestMetricsAndVersion(t *testing.T) {
	m := metrics.New()
	m.IncSubmission()
	s := New(":0", m, nil)

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tutorbot_submissions_total 1")

	rec = get(t, s.Handler(), "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"dev"`)
}
