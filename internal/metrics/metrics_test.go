package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveEvaluation("SUCCESS", 2*time.Millisecond)
	m.ObserveEvaluation("SUCCESS", time.Millisecond)
	m.ObserveEvaluation("INVALID_INPUT", time.Millisecond)
	m.AlertCreated("RULE_MATCH")
	m.AlertSuppressed("duplicate")
	m.SanctionsMatched("OFAC_SDN")
	m.SetRulesLoaded(5)

	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("SUCCESS")); got != 2 {
		t.Errorf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.alertsSuppressed.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("expected 1 duplicate suppression, got %v", got)
	}
	if got := testutil.ToFloat64(m.rulesLoaded); got != 5 {
		t.Errorf("expected 5 rules, got %v", got)
	}
}

func TestSanctionsRefreshed(t *testing.T) {
	m := New()

	m.SanctionsRefreshed("OFAC_SDN", true, 120)
	m.SanctionsRefreshed("OFAC_SDN", false, 0)

	if got := testutil.ToFloat64(m.sanctionsEntities.WithLabelValues("OFAC_SDN")); got != 120 {
		t.Errorf("failed refresh must not reset the gauge, got %v", got)
	}
	if got := testutil.ToFloat64(m.sanctionsRefreshes.WithLabelValues("OFAC_SDN", "false")); got != 1 {
		t.Errorf("expected 1 failed refresh, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.AlertCreated("SANCTIONS")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `heron_alerts_created_total{type="SANCTIONS"} 1`) {
		t.Errorf("metric missing from exposition:\n%s", body)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveEvaluation("SUCCESS", time.Millisecond)
	m.AlertCreated("x")
	m.AlertSuppressed("x")
	m.SanctionsMatched("x")
	m.SanctionsRefreshed("x", true, 1)
	m.SetRulesLoaded(1)

	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
