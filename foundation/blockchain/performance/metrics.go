package performance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the ledger engine. All
// methods are safe to call on a nil value.
type Metrics struct {
	transactionsSubmitted *prometheus.CounterVec
	transactionsCommitted prometheus.Counter
	transactionsRejected  *prometheus.CounterVec
	blocksCommitted       prometheus.Counter
	miningAttempts        *prometheus.CounterVec
	commitLatency         prometheus.Histogram
	blockSize             prometheus.Histogram
}

// NewMetrics creates the collectors and registers them along with gauges
// that read the monitor and the pool. If registry is nil,
// prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer, monitor *Monitor, poolCount func() int) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "transactions_per_second",
			Help:      "Transactions committed per second over the trailing window",
		},
		monitor.CurrentTPS,
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "transactions_per_second_peak",
			Help:      "Highest transactions per second observed",
		},
		func() float64 { return monitor.Stats().PeakTPS },
	)

	if poolCount != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "ledger",
				Name:      "mempool_size",
				Help:      "Number of transactions waiting in the pool",
			},
			func() float64 { return float64(poolCount()) },
		)
	}

	return &Metrics{
		transactionsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "transactions_submitted_total",
				Help:      "Total number of submissions by result",
			},
			[]string{"result"},
		),
		transactionsCommitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "transactions_committed_total",
				Help:      "Total number of transactions sealed into blocks",
			},
		),
		transactionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "transactions_rejected_total",
				Help:      "Total number of admitted transactions dropped at commit by reason",
			},
			[]string{"reason"},
		),
		blocksCommitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "blocks_committed_total",
				Help:      "Total number of blocks appended to the chain",
			},
		),
		miningAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "mining_attempts_total",
				Help:      "Total number of mining cycles by outcome",
			},
			[]string{"outcome"},
		),
		commitLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Name:      "commit_latency_seconds",
				Help:      "Time from admission to commit for each transaction",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		blockSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Name:      "block_size",
				Help:      "Number of transactions per committed block",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
	}
}

// RecordSubmit counts a submission with its result.
func (m *Metrics) RecordSubmit(result string) {
	if m == nil {
		return
	}
	m.transactionsSubmitted.WithLabelValues(result).Inc()
}

// RecordBlock counts a committed block and its transactions.
func (m *Metrics) RecordBlock(count int, latencies []float64) {
	if m == nil {
		return
	}
	m.blocksCommitted.Inc()
	m.blockSize.Observe(float64(count))
	m.transactionsCommitted.Add(float64(count))
	for _, l := range latencies {
		m.commitLatency.Observe(l)
	}
}

// RecordRejected counts transactions dropped at commit.
func (m *Metrics) RecordRejected(reason string, count int) {
	if m == nil {
		return
	}
	m.transactionsRejected.WithLabelValues(reason).Add(float64(count))
}

// RecordMining counts a mining cycle by outcome.
func (m *Metrics) RecordMining(outcome string) {
	if m == nil {
		return
	}
	m.miningAttempts.WithLabelValues(outcome).Inc()
}
