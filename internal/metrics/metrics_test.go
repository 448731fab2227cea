package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.Assessments.WithLabelValues("low_risk").Inc()
	m.Rejections.WithLabelValues("age_range").Add(2)
	m.Probability.Observe(0.2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`kestrel_assessments_total{outcome="low_risk"} 1`,
		`kestrel_validation_rejections_total{rule="age_range"} 2`,
		"kestrel_default_probability_count 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}

func TestMetricsIsolated(t *testing.T) {
	a, b := New(), New()
	a.Explanations.WithLabelValues("primary").Inc()

	if got := testutil.ToFloat64(b.Explanations.WithLabelValues("primary")); got != 0 {
		t.Errorf("registries must not share state, got %f", got)
	}
	if n := testutil.CollectAndCount(a.Explanations); n != 1 {
		t.Errorf("expected 1 series, got %d", n)
	}
}
