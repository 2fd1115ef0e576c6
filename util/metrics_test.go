package util

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestSumMetricValues(t *testing.T) {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_sum_total", Help: "test"}, []string{"k"})
	assert.Equal(t, 0.0, SumMetricValues(counters))

	counters.WithLabelValues("a").Add(3)
	counters.WithLabelValues("b").Add(4.5)
	assert.Equal(t, 7.5, SumMetricValues(counters))

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_sum_gauge", Help: "test"})
	gauge.Set(-2)
	assert.Equal(t, -2.0, SumMetricValues(gauge))
}
