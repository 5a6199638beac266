package cache

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	sismetrics "github.com/small-bodies-node/sbnsis/pkg/metrics"
)

var (
	cacheRequestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: sismetrics.Namespace,
		Subsystem: "cache",
		Name:      "request_duration_seconds",
		Help:      "Duration of shared cache requests, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{sismetrics.LabelMethod, sismetrics.LabelSuccess})
)

type instrumentedClient struct {
	next Client
}

func InstrumentClient(c Client) Client {
	return &instrumentedClient{
		next: c,
	}
}

func (i *instrumentedClient) GetKey(k Keyer) (_ []byte, err error) {
	defer func(begin time.Time) {
		cacheRequestDuration.With(
			sismetrics.LabelMethod, "GetKey",
			sismetrics.LabelSuccess, fmt.Sprint(err == nil || err == ErrNotCached),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.GetKey(k)
}

func (i *instrumentedClient) SetKey(k Keyer, v []byte) (err error) {
	defer func(begin time.Time) {
		cacheRequestDuration.With(
			sismetrics.LabelMethod, "SetKey",
			sismetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.SetKey(k, v)
}
