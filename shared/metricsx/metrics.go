package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	prcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prc_requests_total",
			Help: "Total PRC API requests by endpoint and outcome.",
		},
		[]string{"endpoint", "status"},
	)
	prcLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prc_request_duration_seconds",
			Help:    "PRC API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	prcRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prc_rate_limited_total",
			Help: "Total 429 responses received from the PRC API.",
		},
	)
	prcRateWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prc_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the local PRC rate budget.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)
	commandsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queued_commands_processed_total",
			Help: "Queued commands drained, by terminal status.",
		},
		[]string{"status"},
	)
	commandQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queued_commands_pending",
			Help: "Queued commands currently pending across all servers.",
		},
	)
	automationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_runs_total",
			Help: "Automation rule firings by outcome.",
		},
		[]string{"trigger", "outcome"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Discord webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		prcRequests, prcLatency, prcRateLimited, prcRateWait,
		commandsProcessed, commandQueueDepth, automationRuns,
		kafkaConsumerLag, influxWriteFailures, webhookDeliveries, asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncPRCRequest(endpoint string, status int) {
	prcRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func ObservePRCLatency(d time.Duration) {
	prcLatency.Observe(d.Seconds())
}

func IncPRCRateLimited() {
	prcRateLimited.Inc()
}

func ObserveRateWait(d time.Duration) {
	prcRateWait.Observe(d.Seconds())
}

func IncCommandProcessed(status string) {
	commandsProcessed.WithLabelValues(status).Inc()
}

func SetCommandQueueDepth(depth int) {
	commandQueueDepth.Set(float64(depth))
}

func IncAutomationRun(trigger string, outcome string) {
	automationRuns.WithLabelValues(trigger, outcome).Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncWebhookDelivery(outcome string) {
	webhookDeliveries.WithLabelValues(outcome).Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
