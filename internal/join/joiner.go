package join

import (
	"github.com/pickme-go/metrics/v2"
)

// Metrics are shared by every joiner of one join, labeled by the join name.
type Metrics struct {
	name         string
	buildLatency metrics.Observer
	keys         metrics.Gauge
	entries      metrics.Gauge
	matched      metrics.Counter
	unmatched    metrics.Counter
	emitted      metrics.Counter
}

func NewMetrics(name string, reporter metrics.Reporter) *Metrics {
	labels := []string{`join`}
	return &Metrics{
		name: name,
		buildLatency: reporter.Observer(metrics.MetricConf{
			Path:   `mapjoin_index_build_latency_microseconds`,
			Labels: labels,
		}),
		keys: reporter.Gauge(metrics.MetricConf{
			Path:   `mapjoin_index_keys`,
			Labels: labels,
		}),
		entries: reporter.Gauge(metrics.MetricConf{
			Path:   `mapjoin_index_entries`,
			Labels: labels,
		}),
		matched: reporter.Counter(metrics.MetricConf{
			Path:   `mapjoin_probe_matched_records`,
			Labels: labels,
		}),
		unmatched: reporter.Counter(metrics.MetricConf{
			Path:   `mapjoin_probe_unmatched_records`,
			Labels: labels,
		}),
		emitted: reporter.Counter(metrics.MetricConf{
			Path:   `mapjoin_probe_emitted_rows`,
			Labels: labels,
		}),
	}
}

func (m *Metrics) labels() map[string]string {
	return map[string]string{`join`: m.name}
}
