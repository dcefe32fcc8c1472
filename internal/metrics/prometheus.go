package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const metricPrefix = "ayame_signaling"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters are exported as a single metric with an `event` label; gauges are
// exported one metric per name.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		counters := m.Snapshot()
		gauges := m.GaugeSnapshot()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s_events_total Signaling event counters.\n", metricPrefix)
		_, _ = fmt.Fprintf(w, "# TYPE %s_events_total counter\n", metricPrefix)
		for _, k := range sortedKeys(counters) {
			_, _ = fmt.Fprintf(w, "%s_events_total{event=\"%s\"} %d\n", metricPrefix, labelEscaper.Replace(k), counters[k])
		}
		for _, k := range sortedKeys(gauges) {
			_, _ = fmt.Fprintf(w, "# TYPE %s_%s gauge\n", metricPrefix, k)
			_, _ = fmt.Fprintf(w, "%s_%s %d\n", metricPrefix, k, gauges[k])
		}
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
