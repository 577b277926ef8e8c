// Package metrics exposes job manager counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bardlex/multipool/internal/jobmanager"
)

// Recorder is a jobmanager.Sink backed by Prometheus counters and gauges.
type Recorder struct {
	registry        *prometheus.Registry
	handler         http.Handler
	jobs            *prometheus.CounterVec
	shares          *prometheus.CounterVec
	shareDifficulty prometheus.Counter
	blocksFound     prometheus.Counter
	currentHeight   prometheus.Gauge
	lastBlockHeight prometheus.Gauge
	validJobs       prometheus.GaugeFunc
	blocksSubmitted *prometheus.CounterVec
}

// NewRecorder creates a Recorder. Namespace prefixes every metric and
// defaults to "multipool"; characters Prometheus rejects become '_'.
// validJobs, when non-nil, is sampled on scrape.
func NewRecorder(namespace string, validJobs func() int) (*Recorder, error) {
	namespace = strings.Map(func(r rune) rune {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, namespace)
	if namespace == "" {
		namespace = "multipool"
	}
	if validJobs == nil {
		validJobs = func() int { return 0 }
	}
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		jobs:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "jobs_total", Help: "Jobs broadcast by kind."}, []string{"kind"}),
		shares:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "shares_total", Help: "Processed shares by result code."}, []string{"code"}),
		shareDifficulty: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accepted_difficulty_total", Help: "Sum of credited share difficulty."}),
		blocksFound:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "blocks_found_total", Help: "Blocks found (candidate)."}),
		currentHeight:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "current_height", Help: "Height of the current job."}),
		lastBlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "last_block_height", Help: "Height of the last found block."}),
		validJobs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: "valid_jobs", Help: "Jobs currently accepting shares."},
			func() float64 { return float64(validJobs()) }),
		blocksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "block_submissions_total", Help: "Block submissions by result."}, []string{"status"}),
	}

	collectors := []prometheus.Collector{r.jobs, r.shares, r.shareDifficulty, r.blocksFound, r.currentHeight, r.lastBlockHeight, r.validJobs, r.blocksSubmitted}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Handler exposes the HTTP handler for scraping.
func (r *Recorder) Handler() http.Handler {
	return r.handler
}

// HandleEvent implements jobmanager.Sink.
func (r *Recorder) HandleEvent(_ context.Context, e jobmanager.Event) error {
	switch ev := e.(type) {
	case jobmanager.NewBlock:
		r.jobs.WithLabelValues("new_block").Inc()
		r.currentHeight.Set(float64(ev.Job.Height()))
	case jobmanager.UpdatedBlock:
		r.jobs.WithLabelValues("update").Inc()
	case jobmanager.ShareResult:
		r.shares.WithLabelValues(strconv.Itoa(ev.Share.ErrorCode)).Inc()
		if ev.Share.Accepted() {
			r.shareDifficulty.Add(ev.Share.Difficulty)
		}
		if ev.Block != nil {
			r.BlockFound(ev.Block.Height)
		}
	}
	return nil
}

func (r *Recorder) BlockFound(height int64) {
	r.blocksFound.Inc()
	r.lastBlockHeight.Set(float64(height))
}

func (r *Recorder) BlockSubmitted(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	r.blocksSubmitted.WithLabelValues(status).Inc()
}
