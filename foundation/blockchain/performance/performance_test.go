package performance_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/performance"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_TPS(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	type table struct {
		name   string
		window time.Duration
		now    time.Time
		tps    float64
	}

	tt := []table{
		{name: "all", window: 10 * time.Second, now: start.Add(5 * time.Second), tps: 10},
		{name: "trailing", window: 2 * time.Second, now: start.Add(5 * time.Second), tps: 20},
		{name: "expired", window: 10 * time.Second, now: start.Add(time.Minute), tps: 0},
		{name: "before", window: 10 * time.Second, now: start.Add(-time.Second), tps: 0},
	}

	m := performance.New(performance.Config{Window: 10 * time.Second})
	for i := range 5 {
		m.RecordCommitted(20, time.Second, start.Add(time.Duration(i+1)*time.Second))
	}

	t.Log("Given the need to measure transactions per second.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen measuring the %s window.", testID, tst.name)
			{
				f := func(t *testing.T) {
					got := m.TPS(tst.window, tst.now)
					if got != tst.tps {
						t.Logf("\t%s\tTest %d:\tgot: %f", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %f", failed, testID, tst.tps)
						t.Fatalf("\t%s\tTest %d:\tShould get the right rate.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get the right rate.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_Stats(t *testing.T) {
	m := performance.New(performance.Config{Window: time.Second})
	now := time.Now()

	m.RecordCommitted(10, 100*time.Millisecond, now)
	m.RecordCommitted(30, 300*time.Millisecond, now)

	stats := m.Stats()
	assert.Equal(t, uint64(40), stats.TotalTransactions)
	assert.Equal(t, uint64(2), stats.TotalBlocks)
	assert.Equal(t, 250*time.Millisecond, stats.AverageLatency)
	assert.Equal(t, float64(40), stats.PeakTPS)
}

func Test_RingOverflow(t *testing.T) {
	m := performance.New(performance.Config{Window: time.Hour, Capacity: 4})
	now := time.Now()

	for range 10 {
		m.RecordCommitted(1, 0, now)
	}

	assert.Equal(t, float64(4)/time.Hour.Seconds(), m.TPS(time.Hour, now))
	assert.Equal(t, uint64(10), m.Stats().TotalTransactions)
}

func Test_ConcurrentRecord(t *testing.T) {
	m := performance.New(performance.Config{})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.RecordCommitted(1, time.Millisecond, time.Now())
				m.CurrentTPS()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), m.Stats().TotalTransactions)
}

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := performance.New(performance.Config{})
	metrics := performance.NewMetrics(reg, m, func() int { return 7 })

	m.RecordCommitted(3, time.Millisecond, time.Now())
	metrics.RecordBlock(3, []float64{.001, .002, .003})
	metrics.RecordRejected("conservation", 2)
	metrics.RecordSubmit("accepted")
	metrics.RecordMining("sealed")

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, float64(3), values["ledger_transactions_committed_total"])
	assert.Equal(t, float64(1), values["ledger_blocks_committed_total"])
	assert.Equal(t, float64(2), values["ledger_transactions_rejected_total"])
	assert.Equal(t, float64(7), values["ledger_mempool_size"])
	assert.Greater(t, values["ledger_transactions_per_second"], float64(0))

	var nilMetrics *performance.Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordBlock(1, nil) })
}
