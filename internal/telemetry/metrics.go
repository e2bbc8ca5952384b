package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spigell/hh-autoreply/internal/ai"
)

var (
	once sync.Once

	LLMAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hh_autoreply_llm_attempts_total",
		Help: "LLM call attempts by call site and status",
	}, []string{"call", "status"})
	LLMAttemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hh_autoreply_llm_attempt_duration_seconds",
		Help:    "Duration of single LLM call attempts",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"call"})
	MatchCacheHits      = prometheus.NewCounter(prometheus.CounterOpts{Name: "hh_autoreply_match_cache_hits_total", Help: "Verdicts served from the match cache"})
	MatchCacheMisses    = prometheus.NewCounter(prometheus.CounterOpts{Name: "hh_autoreply_match_cache_misses_total", Help: "Vacancies sent to the LLM filter"})
	MatchChunkFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "hh_autoreply_match_chunk_failures_total", Help: "LLM filter chunks dropped after errors"})
	ActiveRuns          = prometheus.NewGauge(prometheus.GaugeOpts{Name: "hh_autoreply_active_runs", Help: "Auto-reply runs currently in progress"})
	RunsStarted         = prometheus.NewCounter(prometheus.CounterOpts{Name: "hh_autoreply_runs_started_total", Help: "Auto-reply runs started"})
	SchedulerTickErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "hh_autoreply_scheduler_tick_errors_total", Help: "Scheduler ticks that failed to list resumes or panicked"})
	Submissions         = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hh_autoreply_submissions_total",
		Help: "Application submissions by result",
	}, []string{"result"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			LLMAttempts,
			LLMAttemptDuration,
			MatchCacheHits,
			MatchCacheMisses,
			MatchChunkFailures,
			ActiveRuns,
			RunsStarted,
			SchedulerTickErrors,
			Submissions,
		)
	})
	return promhttp.Handler()
}

// LLMRecorder reports LLM attempts to prometheus.
type LLMRecorder struct{}

func (LLMRecorder) Record(a ai.Attempt) {
	LLMAttempts.WithLabelValues(a.Call, string(a.Status)).Inc()
	LLMAttemptDuration.WithLabelValues(a.Call).Observe(a.Duration.Seconds())
}
