package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetrics(t *testing.T) {
	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.ScoreWrite("ok")
			m.Push("sent", 2)
			m.LoginFailure()
		})
		assert.Nil(t, m.Registry())
	})

	t.Run("counters record by label", func(t *testing.T) {
		m := New(false)
		m.Push("sent", 2)
		m.Push("failed", 1)
		m.Push("failed", 0)

		body := scrape(t, m)
		assert.Contains(t, body, `school_portal_push_deliveries_total{result="sent"} 2`)
		assert.Contains(t, body, `school_portal_push_deliveries_total{result="failed"} 1`)
	})

	t.Run("handler exposes registered collectors", func(t *testing.T) {
		m := New(false)
		m.LoginFailure()

		assert.Contains(t, scrape(t, m), "school_portal_login_failures_total 1")
	})
}
