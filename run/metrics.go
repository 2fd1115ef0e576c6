package run

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/slog-buffer/util"
)

var (
	relayLinesTotal         *prometheus.CounterVec
	relayInputLinesCounter  prometheus.Counter
	relayOutputLinesCounter prometheus.Counter
)

func init() {
	opts := prometheus.CounterOpts{}
	opts.Name = "slogbuffer_relay_lines_total"
	opts.Help = "Numbers of lines relayed through buffer"
	relayLinesTotal = prometheus.NewCounterVec(opts, []string{"direction"})
	prometheus.MustRegister(relayLinesTotal)

	relayInputLinesCounter = relayLinesTotal.WithLabelValues("input")
	relayOutputLinesCounter = relayLinesTotal.WithLabelValues("output")
}

// RegisterMetricDump exposes the buffer metrics of the loader in text format at /metrics/buffers
func RegisterMetricDump(loader *Loader) {
	util.HandleMetricDump("/metrics/buffers", func() string {
		return promext.DumpMetrics("", true, false, loader.MetricFactory)
	})
}
