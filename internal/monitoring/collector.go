package monitoring

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
)

// Search results as recorded in the searches_total counter.
const (
	ResultSelected  = "selected"
	ResultCancelled = "cancelled"
	ResultExhausted = "exhausted"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

// MetricsSnapshot holds search health accumulated since the previous
// Collect call.
type MetricsSnapshot struct {
	SearchTotal     int `json:"search_total"`
	SearchSelected  int `json:"search_selected"`
	SearchCancelled int `json:"search_cancelled"`
	SearchExhausted int `json:"search_exhausted"`
	SearchInvalid   int `json:"search_invalid"`
	SearchFailed    int `json:"search_failed"`

	CandidatesScored  int       `json:"candidates_scored"`
	CandidatesFailed  int       `json:"candidates_failed"`
	CandidateFailRate float64   `json:"candidate_fail_rate"`
	LastBestScore     float64   `json:"last_best_score"`
	AvgSearchSeconds  float64   `json:"avg_search_seconds"`
	WindowStartedAt   time.Time `json:"window_started_at"`
	CollectedAt       time.Time `json:"collected_at"`
}

// Collector exports seed-search and HTTP metrics to Prometheus and keeps a
// windowed snapshot for alerting. It implements seedfinder.Observer.
type Collector struct {
	searches       *prometheus.CounterVec
	candidates     *prometheus.CounterVec
	searchDuration prometheus.Histogram
	bestScore      prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	mu          sync.Mutex
	window      MetricsSnapshot
	totalSecs   float64
	windowStart time.Time
}

var _ seedfinder.Observer = (*Collector)(nil)

// NewCollector registers the collector's metrics with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_searches_total",
			Help:      "Seed searches by result.",
		}, []string{"result"}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_candidates_total",
			Help:      "Candidate seeds evaluated, by outcome.",
		}, []string{"outcome"}),
		searchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seed_search_duration_seconds",
			Help:      "Wall-clock duration of seed searches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		bestScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seed_best_max_abs_t",
			Help:      "Worst-case |t| of the most recently selected seed.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		windowStart: time.Now().UTC(),
	}
}

// ObserveCandidate counts one evaluated candidate.
func (c *Collector) ObserveCandidate(ok bool) {
	outcome := "scored"
	if !ok {
		outcome = "failed"
	}
	c.candidates.WithLabelValues(outcome).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.window.CandidatesScored++
	} else {
		c.window.CandidatesFailed++
	}
}

// ObserveSearch records a finished search.
func (c *Collector) ObserveSearch(o *seedfinder.Outcome, elapsed time.Duration, err error) {
	result := classify(o, err)
	c.searches.WithLabelValues(result).Inc()
	c.searchDuration.Observe(elapsed.Seconds())
	if o != nil {
		c.bestScore.Set(o.Best.Score)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.SearchTotal++
	c.totalSecs += elapsed.Seconds()
	switch result {
	case ResultSelected:
		c.window.SearchSelected++
	case ResultCancelled:
		c.window.SearchCancelled++
	case ResultExhausted:
		c.window.SearchExhausted++
	case ResultInvalid:
		c.window.SearchInvalid++
	default:
		c.window.SearchFailed++
	}
	if o != nil {
		c.window.LastBestScore = o.Best.Score
	}
}

func classify(o *seedfinder.Outcome, err error) string {
	switch {
	case err == nil && o != nil && o.Cancelled:
		return ResultCancelled
	case err == nil:
		return ResultSelected
	case errors.Is(err, seedfinder.ErrSearchExhausted):
		return ResultExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	case experr.IsConfig(err):
		return ResultInvalid
	default:
		return ResultError
	}
}

// RecordHTTPRequest counts one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Collect returns the snapshot accumulated since the previous call and
// starts a new window.
func (c *Collector) Collect() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	snap := c.window
	snap.WindowStartedAt = c.windowStart
	snap.CollectedAt = now
	if n := snap.CandidatesScored + snap.CandidatesFailed; n > 0 {
		snap.CandidateFailRate = float64(snap.CandidatesFailed) / float64(n)
	}
	if snap.SearchTotal > 0 {
		snap.AvgSearchSeconds = c.totalSecs / float64(snap.SearchTotal)
	}

	c.window = MetricsSnapshot{LastBestScore: snap.LastBestScore}
	c.totalSecs = 0
	c.windowStart = now
	return &snap
}
