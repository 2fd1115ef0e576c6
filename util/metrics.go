package util

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/defs"
)

var (
	listedPathsMutex sync.Mutex
	listedPaths      = []string{"/debug/pprof/", "/metrics"}
)

func init() {
	_ = pprof.Handler // to trigger registrations under "/debug/pprof/"
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/", serveIndexPage)
}

func serveIndexPage(w http.ResponseWriter, _ *http.Request) {
	listedPathsMutex.Lock()
	paths := append([]string(nil), listedPaths...)
	listedPathsMutex.Unlock()
	sort.Strings(paths)

	var items strings.Builder
	for _, path := range paths {
		escaped := html.EscapeString(path)
		fmt.Fprintf(&items, "\t\t\t<li><a href='%s'>%s</a></li>\n", escaped, escaped)
	}
	fmt.Fprintf(w, `
<html>
	<head>
		<title>slog-buffer metrics listener</title>
	</head>
	<body>
		<h1>Metrics listener for slog-buffer</h1>
		<ul>
%s		</ul>
	</body>
</html>`, items.String())
}

// LaunchMetricsListener starts a HTTP server for Prometheus metrics and the extra pages added by HandleMetricDump
func LaunchMetricsListener(address string) *http.Server {
	mlogger := logger.WithField(defs.LabelComponent, "MetricsListener")
	server := &http.Server{Addr: address}
	go func() {
		mlogger.Infof("listening on %s for metrics...", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mlogger.Error("Prometheus listener error: ", err)
		}
	}()
	return server
}

// HandleMetricDump serves metrics in text format from the given dump function, for metrics outside of the default
// Prometheus registry. The path is listed on the index page.
func HandleMetricDump(path string, dump func() string) {
	http.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, dump())
	})
	listedPathsMutex.Lock()
	listedPaths = append(listedPaths, path)
	listedPathsMutex.Unlock()
}

// SumMetricValues sums the current values of all metrics in a Collector, e.g. every child of a CounterVec
func SumMetricValues(c prometheus.Collector) float64 {
	metrics := make(chan prometheus.Metric)
	go func() {
		c.Collect(metrics)
		close(metrics)
	}()
	sum := 0.0
	for m := range metrics {
		sum += readMetricValue(m)
	}
	return sum
}

func readMetricValue(m prometheus.Metric) float64 {
	pb := &dto.Metric{}
	if err := m.Write(pb); err != nil {
		logger.Errorf("failed to read metric '%s': %s", m.Desc(), err.Error())
		return 0
	}
	switch {
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Untyped != nil:
		return pb.Untyped.GetValue()
	default:
		return 0
	}
}
