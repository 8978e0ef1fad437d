package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector метрики сервиса на собственном реестре
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge

	analysesTotal  *prometheus.CounterVec
	remotePolls    prometheus.Counter
	downloadsTotal *prometheus.CounterVec
	outfitsTotal   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector создаёт коллектор с метриками процесса и Go runtime
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_jobs_total",
			Help:      "Finished conversion jobs by mode and final status",
		},
		[]string{"mode", "status"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_job_duration_seconds",
			Help:      "Conversion job duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	c.jobsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversion_jobs_in_flight",
			Help:      "Conversion jobs currently running",
		},
	)

	c.analysesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shape_analyses_total",
			Help:      "Shape analyses by detected shape type",
		},
		[]string{"shape"},
	)

	c.remotePolls = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_status_polls_total",
			Help:      "Status requests sent to the cloud converter",
		},
	)

	c.downloadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_downloads_total",
			Help:      "Artifact downloads by kind and result",
		},
		[]string{"kind", "status"},
	)

	c.outfitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outfit_reports_total",
			Help:      "Outfit post-processing reports by category and validity",
		},
		[]string{"category", "valid"},
	)

	return c
}

// Handler отдаёт метрики в формате Prometheus
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry реестр коллектора
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordHTTPRequest записывает метрики HTTP запроса
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// JobStarted увеличивает число выполняющихся задач
func (c *Collector) JobStarted() {
	c.jobsInFlight.Inc()
}

// JobFinished записывает итог задачи
func (c *Collector) JobFinished(mode, status string, duration time.Duration) {
	c.jobsInFlight.Dec()
	c.jobsTotal.WithLabelValues(mode, status).Inc()
	c.jobDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordAnalysis считает анализ по типу формы
func (c *Collector) RecordAnalysis(shape string) {
	c.analysesTotal.WithLabelValues(shape).Inc()
}

// RecordPoll считает опрос облачного сервиса
func (c *Collector) RecordPoll() {
	c.remotePolls.Inc()
}

// RecordDownload записывает результат скачивания артефакта
func (c *Collector) RecordDownload(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.downloadsTotal.WithLabelValues(kind, status).Inc()
}

// RecordOutfit записывает отчёт постобработки
func (c *Collector) RecordOutfit(category string, valid bool) {
	c.outfitsTotal.WithLabelValues(category, strconv.FormatBool(valid)).Inc()
}

func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
