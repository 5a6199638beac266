package source

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// RateLimiters keeps track of per-host rate limiting for the archive
// hosts images are fetched from.
//
// Use `*RateLimiters.RoundTripper(rt, host)` to obtain a rate limited
// HTTP transport. The RoundTripper reacts to a `HTTP 429 Too many
// requests` response by halving the limit for that host, once per
// transport, so that concurrent range requests don't *all* reduce it.
//
// Call `*RateLimiters.Recover(host)` when a fetch has succeeded
// without incident, which increases the limit modestly back towards
// RPS.
type RateLimiters struct {
	RPS     float64
	Burst   int
	Logger  log.Logger
	perHost map[string]*rate.Limiter
	mu      sync.Mutex
}

func (limiters *RateLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > limiters.RPS {
		return limiters.RPS
	}
	return limit
}

// limiter returns the limiter for host; limiters.mu must be held.
func (limiters *RateLimiters) limiter(host string) *rate.Limiter {
	if limiters.perHost == nil {
		limiters.perHost = map[string]*rate.Limiter{}
	}
	rl, ok := limiters.perHost[host]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(limiters.RPS), limiters.Burst)
		limiters.perHost[host] = rl
	}
	return rl
}

func (limiters *RateLimiters) backOff(host string) {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()

	limiter := limiters.limiter(host)
	oldLimit := float64(limiter.Limit())
	newLimit := limiters.clip(oldLimit / backOffBy)
	if oldLimit != newLimit && limiters.Logger != nil {
		limiters.Logger.Log("info", "reducing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

// Recover should be called when a fetch through a RoundTripper has
// succeeded, to bump the limit back up again.
func (limiters *RateLimiters) Recover(host string) {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()
	if limiters.perHost == nil {
		return
	}
	if limiter, ok := limiters.perHost[host]; ok {
		oldLimit := float64(limiter.Limit())
		newLimit := limiters.clip(oldLimit * recoverBy)
		if newLimit != oldLimit && limiters.Logger != nil {
			limiters.Logger.Log("info", "increasing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
		}
		limiter.SetLimit(rate.Limit(newLimit))
	}
}

// Limit returns the current limit for host, for tests and logging.
func (limiters *RateLimiters) Limit(host string) float64 {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()
	return float64(limiters.limiter(host).Limit())
}

// RoundTripper returns a rate limited transport for host.
func (limiters *RateLimiters) RoundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()

	var reduceOnce sync.Once
	return &roundTripRateLimiter{
		rl: limiters.limiter(host),
		tx: rt,
		slowDown: func() {
			reduceOnce.Do(func() { limiters.backOff(host) })
		},
	}
}

type roundTripRateLimiter struct {
	rl       *rate.Limiter
	tx       http.RoundTripper
	slowDown func()
}

func (t *roundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	// Wait errors out if the request cannot be processed within
	// the deadline. This is pre-emptive, instead of waiting the
	// entire duration.
	if err := t.rl.Wait(r.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	resp, err := t.tx.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		t.slowDown()
	}
	return resp, err
}
