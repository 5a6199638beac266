package cutout

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
)

var (
	extractDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: sismetrics.Namespace,
		Subsystem: "cutout",
		Name:      "extract_duration_seconds",
		Help:      "Duration of cutout extraction, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{sismetrics.LabelStage, sismetrics.LabelSuccess})
)
