package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(commandsTotal.WithLabelValues("reserve", "ok"))
	ObserveCommand("reserve", "ok", 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(commandsTotal.WithLabelValues("reserve", "ok")))

	before = testutil.ToFloat64(transitionsTotal.WithLabelValues("OPEN", "CLAIMED"))
	RecordTransition("OPEN", "CLAIMED")
	assert.Equal(t, before+1, testutil.ToFloat64(transitionsTotal.WithLabelValues("OPEN", "CLAIMED")))

	before = testutil.ToFloat64(consistencyWarnings)
	RecordConsistencyWarning()
	assert.Equal(t, before+1, testutil.ToFloat64(consistencyWarnings))
}

func TestHandler(t *testing.T) {
	RecordLedgerMutation("tokens")
	RecordAuditEntry("RESULT")
	RecordOperatorAlert()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"critics_guild_ledger_mutations_total",
		"critics_guild_audit_entries_total",
		"critics_guild_bot_operator_alerts_total",
	} {
		assert.True(t, strings.Contains(body, name), name)
	}
}
