package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveCycle("living", nil)
	m.ObserveCycle("living", nil)
	m.ObserveCycle("living", errors.New("boom"))
	m.ObserveSync("living", 4, nil)
	m.ObserveSync("living", 0, errors.New("boom"))
	m.ObserveFallback()
	m.ObserveAction("cycle-mood", "webhook", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("living", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("living", ResultError)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.moods.WithLabelValues("living")), "failed sync keeps last count")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("cycle-mood", "webhook", ResultOK)))

	m.ForgetDevice("living")
	assert.Equal(t, 0, testutil.CollectAndCount(m.moods))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("x", nil)
	m.ObserveSync("x", 1, nil)
	m.ObserveFallback()
	m.ObserveAction("a", "b", nil)
	m.ForgetDevice("x")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveFallback()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "moodcycler_activation_fallbacks_total 1")
}
