package dbi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times the queries issued through a Conn.
type Metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbi",
			Name:      "queries_total",
			Help:      "Queries issued, by engine, query variant and outcome.",
		}, []string{"engine", "variant", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dbi",
			Name:      "query_duration_seconds",
			Help:      "Time from prepare to finish of a query.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine", "variant"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.queries, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

const (
	outcomeOK       = "ok"
	outcomeNoResult = "no_result"
	outcomeError    = "error"
)

func (m *Metrics) observe(engine Engine, variant string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case err == nil:
	case isNoResult(err):
		outcome = outcomeNoResult
	default:
		outcome = outcomeError
	}
	m.queries.WithLabelValues(engine.String(), variant, outcome).Inc()
	m.duration.WithLabelValues(engine.String(), variant).Observe(time.Since(start).Seconds())
}
