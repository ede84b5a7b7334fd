// Package metrics — Prometheus-счётчики бота и HTTP-эндпоинт /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "critics_guild"

var (
	// Registry хранит коллекторы приложения.
	Registry = prometheus.NewRegistry()

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "commands_total",
			Help:      "Commands handled, by kind and outcome.",
		},
		[]string{"command", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "command_duration_seconds",
			Help:      "Duration of command handling.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~5s
		},
		[]string{"command"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Request state transitions.",
		},
		[]string{"from", "to"},
	)

	ledgerMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Counter mutations applied through the ledger.",
		},
		[]string{"counter"},
	)

	auditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Audit log entries written, by class.",
		},
		[]string{"class"},
	)

	consistencyWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "consistency_warnings_total",
			Help:      "Log entries whose request reference was dropped.",
		},
	)

	panicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "panics_total",
			Help:      "Panics recovered in update handlers.",
		},
	)

	operatorAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "operator_alerts_total",
			Help:      "Out-of-band alerts raised for unexpected failures.",
		},
	)
)

func init() {
	Registry.MustRegister(
		commandsTotal,
		commandDuration,
		transitionsTotal,
		ledgerMutations,
		auditEntries,
		consistencyWarnings,
		operatorAlerts,
		panicsTotal,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// ObserveCommand записывает итог и длительность команды.
func ObserveCommand(command, outcome string, took time.Duration) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(took.Seconds())
}

func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordLedgerMutation(counter string) {
	ledgerMutations.WithLabelValues(counter).Inc()
}

func RecordAuditEntry(class string) {
	auditEntries.WithLabelValues(class).Inc()
}

func RecordConsistencyWarning() {
	consistencyWarnings.Inc()
}

func RecordOperatorAlert() {
	operatorAlerts.Inc()
}

func RecordPanic() {
	panicsTotal.Inc()
}

// Handler отдаёт зарегистрированные метрики.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve поднимает /metrics на addr и гасит сервер по ctx.
// Пустой addr — метрики выключены.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		log.Info("Метрики отключены (METRICS_ADDR пуст)")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Ошибка остановки сервера метрик")
		}
	}()

	log.WithField("addr", addr).Info("Сервер метрик запущен")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Сервер метрик упал")
	}
}
