package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spigell/hh-autoreply/internal/ai"
)

func TestLLMRecorder(t *testing.T) {
	before := testutil.ToFloat64(LLMAttempts.WithLabelValues("cover_letter", "invalid"))

	LLMRecorder{}.Record(ai.Attempt{Call: "cover_letter", Number: 1, Status: ai.StatusInvalid, Duration: time.Second})

	after := testutil.ToFloat64(LLMAttempts.WithLabelValues("cover_letter", "invalid"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by one, got %v -> %v", before, after)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	h := Handler()
	// second call must not re-register
	h = Handler()

	RunsStarted.Inc()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hh_autoreply_runs_started_total") {
		t.Fatalf("expected runs counter in output")
	}
}
