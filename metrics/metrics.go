// Package metrics exposes Prometheus counters and histograms for the
// extraction pipeline. Every method is safe to call on a nil *Recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used with ObserveStage.
const (
	StageNavigation = "navigation"
	StageScroll     = "scroll"
	StageCleaning   = "cleaning"
	StageLLM        = "llm"
	StageParse      = "parse"
)

// Recorder holds the pipeline metrics.
type Recorder struct {
	NavigationAttempts *prometheus.CounterVec
	LLMInvocations     *prometheus.CounterVec
	Extractions        *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the metrics with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		NavigationAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmscrape_navigation_attempts_total",
				Help: "Page navigation attempts by outcome",
			},
			[]string{"outcome"},
		),
		LLMInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmscrape_llm_invocations_total",
				Help: "Model invocation attempts by prompt style and outcome",
			},
			[]string{"style", "outcome"},
		),
		Extractions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmscrape_extractions_total",
				Help: "Completed extractions by outcome (ok or error code)",
			},
			[]string{"outcome"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmscrape_stage_duration_seconds",
				Help:    "Time spent per pipeline stage in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		gatherer: reg,
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// NavigationAttempt counts one navigation attempt.
func (r *Recorder) NavigationAttempt(err error) {
	if r == nil {
		return
	}
	r.NavigationAttempts.WithLabelValues(outcome(err)).Inc()
}

// LLMInvocation counts one model call attempt.
func (r *Recorder) LLMInvocation(style string, err error) {
	if r == nil {
		return
	}
	r.LLMInvocations.WithLabelValues(style, outcome(err)).Inc()
}

// Extraction counts one finished extraction. code is "ok" or an error code.
func (r *Recorder) Extraction(code string) {
	if r == nil {
		return
	}
	r.Extractions.WithLabelValues(code).Inc()
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
