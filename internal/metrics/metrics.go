// Package metrics exposes Prometheus collectors for the archiver.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobPollsTotal                  *prometheus.CounterVec
	jobPagesSeen                   prometheus.Gauge
	monitorTransitionsTotal        *prometheus.CounterVec
	mediaFoundTotal                *prometheus.CounterVec
	downloadsTotal                 *prometheus.CounterVec
	downloadBytesTotal             *prometheus.CounterVec
	downloadDurationSeconds        *prometheus.HistogramVec
	activeDownloads                prometheus.Gauge
	pacingDelaysSeconds            prometheus.Histogram
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	pagesProcessedTotal            *prometheus.CounterVec
	reportArtifactsWrittenTotal    prometheus.Counter
	reportArtifactMirrorErrorTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobPollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_job_polls_total",
				Help: "Total number of job status polls, labeled by result.",
			},
			[]string{"result"},
		)

		jobPagesSeen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_job_pages_seen",
				Help: "Distinct pages reported by the job service so far.",
			},
		)

		monitorTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_monitor_transitions_total",
				Help: "Total number of job monitor state transitions, labeled by target state.",
			},
			[]string{"state"},
		)

		mediaFoundTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_media_found_total",
				Help: "Distinct media references discovered, labeled by kind.",
			},
			[]string{"kind"},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_downloads_total",
				Help: "Total number of media downloads, labeled by site, kind and result.",
			},
			[]string{"site", "kind", "result"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_download_bytes_total",
				Help: "Total number of media bytes written, labeled by kind.",
			},
			[]string{"kind"},
		)

		downloadDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_download_duration_seconds",
				Help:    "Histogram of media download latencies, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		)

		activeDownloads = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_downloads",
				Help: "Number of downloads currently streaming to disk.",
			},
		)

		pacingDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_pacing_delays_seconds",
				Help:    "Histogram of per-worker pacing wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		pagesProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_pages_processed_total",
				Help: "Pages classified and scanned for media, labeled by category.",
			},
			[]string{"category"},
		)

		reportArtifactsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_report_artifacts_written_total",
				Help: "Report, content and raw data files written.",
			},
		)

		reportArtifactMirrorErrorTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_report_artifact_mirror_errors_total",
				Help: "Artifacts that could not be copied to the mirror store.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll counts one poll of the job service.
func ObservePoll(result string) {
	jobPollsTotal.WithLabelValues(result).Inc()
}

// SetPagesSeen records the distinct page count of the running job.
func SetPagesSeen(n int) {
	jobPagesSeen.Set(float64(n))
}

// ObserveTransition counts a monitor transition into state.
func ObserveTransition(state string) {
	monitorTransitionsTotal.WithLabelValues(state).Inc()
}

// AddMediaFound counts newly discovered references of kind.
func AddMediaFound(kind string, n int) {
	if n <= 0 {
		return
	}
	mediaFoundTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveDownload records one archive attempt.
func ObserveDownload(rawURL, kind, result string, bytesWritten int64, duration time.Duration) {
	downloadsTotal.WithLabelValues(SanitizeSite(rawURL), kind, result).Inc()
	if bytesWritten > 0 {
		downloadBytesTotal.WithLabelValues(kind).Add(float64(bytesWritten))
	}
	downloadDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncActiveDownloads increments the active downloads gauge.
func IncActiveDownloads() {
	activeDownloads.Inc()
}

// DecActiveDownloads decrements the active downloads gauge.
func DecActiveDownloads() {
	activeDownloads.Dec()
}

// ObservePacingDelay records how long a worker waited on its pacing limiter.
func ObservePacingDelay(duration time.Duration) {
	pacingDelaysSeconds.Observe(duration.Seconds())
}

// ObservePageProcessed counts a classified page.
func ObservePageProcessed(category string) {
	pagesProcessedTotal.WithLabelValues(category).Inc()
}

// ObserveArtifactWritten counts a persisted report artifact.
func ObserveArtifactWritten() {
	reportArtifactsWrittenTotal.Inc()
}

// ObserveMirrorError counts an artifact the mirror store rejected.
func ObserveMirrorError() {
	reportArtifactMirrorErrorTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
