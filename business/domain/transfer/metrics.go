package transfer

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	submissionsCount      *prometheus.CounterVec
	stateGauge            prometheus.Gauge
	loadingGauge          prometheus.Gauge
	transactionCountGauge prometheus.Gauge
	confirmationDuration  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := Metrics{
		submissionsCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_submissions_total", namespace),
			Help: "The total number of submissions by outcome",
		}, []string{"outcome"}),
		stateGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_controller_state", namespace),
			Help: "The current state of the transfer controller",
		}),
		loadingGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_loading", namespace),
			Help: "1 while a submitted transaction waits for confirmation",
		}),
		// comparison to the ledger
		transactionCountGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_ledger_transaction_count", namespace),
			Help: "The latest transaction count read from the ledger",
		}),
		confirmationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_confirmation_seconds", namespace),
			Help:    "Time from wallet acceptance until the transaction was mined",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	return &m
}

func (metrics *Metrics) IncSubmissions(outcome string) {
	metrics.submissionsCount.WithLabelValues(outcome).Inc()
}

func (metrics *Metrics) SetState(state State, loading bool) {
	metrics.stateGauge.Set(float64(state))
	if loading {
		metrics.loadingGauge.Set(1)
	} else {
		metrics.loadingGauge.Set(0)
	}
}

func (metrics *Metrics) SetTransactionCount(count uint64) {
	metrics.transactionCountGauge.Set(float64(count))
}

func (metrics *Metrics) ObserveConfirmation(seconds float64) {
	metrics.confirmationDuration.Observe(seconds)
}
