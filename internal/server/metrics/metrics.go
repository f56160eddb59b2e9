// Package metrics метрики relay-сервера в формате prometheus
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace общий префикс всех метрик
const Namespace = "ledgersync"

// Результаты обмена сообщениями для метки result
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// NewCounter creates a Counter metrics under the global namespace
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewHistogram creates a Histogram metrics under the global namespace
func NewHistogram(name, subsystem, help string, labels []string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

var (
	httpRequests = NewCounter("requests_total", "http", "Number of handled HTTP requests", []string{"route", "method", "status"})
	httpDuration = NewHistogram("request_duration_seconds", "http", "HTTP request latency", []string{"route"})

	syncRequests     = NewCounter("requests_total", "sync", "Number of sync exchanges by result", []string{"result"})
	syncMessagesIn   = NewCounter("messages_received_total", "sync", "Messages received from clients and stored", nil)
	syncMessagesDup  = NewCounter("messages_duplicate_total", "sync", "Messages received from clients that were already stored", nil)
	syncMessagesSent = NewCounter("messages_sent_total", "sync", "Messages sent to clients", nil)
)

// Handler отдает метрики для сбора
func Handler() http.Handler {
	return promhttp.Handler()
}

// ReportSync учитывает один обмен сообщениями.
// Счетчики сообщений меняются только для успешных обменов.
func ReportSync(result string, received, inserted, sent int) {
	syncRequests.WithLabelValues(result).Inc()
	if result != ResultOK {
		return
	}
	if inserted > 0 {
		syncMessagesIn.WithLabelValues().Add(float64(inserted))
	}
	if dup := received - inserted; dup > 0 {
		syncMessagesDup.WithLabelValues().Add(float64(dup))
	}
	if sent > 0 {
		syncMessagesSent.WithLabelValues().Add(float64(sent))
	}
}

// ReportRejected учитывает отклоненный обмен
func ReportRejected() {
	syncRequests.WithLabelValues(ResultRejected).Inc()
}

// statusRecorder запоминает код ответа
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware считает запросы и их длительность по шаблону маршрута
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// шаблон вместо пути: имена пользователей не попадают в метки
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
