package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsDropObservations(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CycleOpened()
		m.CycleFinalized("UP")
		m.Payout()
		m.PayoutShortfall()
		m.SetActiveValidators(3)
		m.UpkeepRun("performed")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.CycleOpened()
	m.CycleFinalized("DOWN")
	m.SetActiveValidators(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "uptimeline_cycles_opened_total 1")
	assert.Contains(t, string(body), `uptimeline_cycles_finalized_total{outcome="DOWN"} 1`)
	assert.Contains(t, string(body), "uptimeline_active_validators 2")
}
