package render

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
)

var (
	renderDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: sismetrics.Namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Duration of browse image rendering, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{sismetrics.LabelFormat, sismetrics.LabelSuccess})
)
