package source

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
)

var (
	materializeDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: sismetrics.Namespace,
		Subsystem: "source",
		Name:      "materialize_duration_seconds",
		Help:      "Duration of downloading a remote source into the cache, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{sismetrics.LabelSource, sismetrics.LabelSuccess})
)
