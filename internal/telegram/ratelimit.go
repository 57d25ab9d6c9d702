package telegram

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/blockedby/tgsaver/internal/config"
)

// RateLimiter paces calls to the Telegram API. Every worker shares one
// limiter so a flood wait pauses all of them.
// It is also a prometheus.Collector.
type RateLimiter struct {
	limiter *rate.Limiter

	mu             sync.Mutex
	floodWaitUntil time.Time

	requests   atomic.Uint64
	floodWaits atomic.Uint64

	requestsDesc   *prometheus.Desc
	floodWaitsDesc *prometheus.Desc
	pausedDesc     *prometheus.Desc
}

// NewRateLimiter allows rps calls per second with the given burst.
// 1-2 rps is safe for hours-long drains.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		requestsDesc: prometheus.NewDesc("tgsaver_telegram_requests_total",
			"Telegram API calls let through the limiter.", nil, nil),
		floodWaitsDesc: prometheus.NewDesc("tgsaver_telegram_flood_waits_total",
			"FLOOD_WAIT responses received.", nil, nil),
		pausedDesc: prometheus.NewDesc("tgsaver_telegram_flood_wait_seconds",
			"Seconds left on the active flood wait.", nil, nil),
	}
}

// RateLimiterFromConfig builds the limiter from TG_RATE_RPS and TG_RATE_BURST.
func RateLimiterFromConfig(cfg *config.Config) *RateLimiter {
	if cfg == nil || cfg.RateRPS <= 0 {
		return DefaultRateLimiter()
	}
	return NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
}

// DefaultRateLimiter allows two calls per second.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2.0, 1)
}

// Wait blocks out any active flood wait, then takes a token.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if remaining := r.FloodWaitRemaining(); remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	r.requests.Add(1)
	return nil
}

// SetFloodWait pauses every caller for the given seconds.
// A shorter wait never cuts an active one.
func (r *RateLimiter) SetFloodWait(seconds int) {
	r.floodWaits.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	until := time.Now().Add(time.Duration(seconds) * time.Second)
	if until.After(r.floodWaitUntil) {
		r.floodWaitUntil = until
	}
}

// FloodWaitRemaining returns how long the active flood wait still lasts.
func (r *RateLimiter) FloodWaitRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d := time.Until(r.floodWaitUntil); d > 0 {
		return d
	}
	return 0
}

// Describe implements prometheus.Collector.
func (r *RateLimiter) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.requestsDesc
	ch <- r.floodWaitsDesc
	ch <- r.pausedDesc
}

// Collect implements prometheus.Collector.
func (r *RateLimiter) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(r.requestsDesc, prometheus.CounterValue, float64(r.requests.Load()))
	ch <- prometheus.MustNewConstMetric(r.floodWaitsDesc, prometheus.CounterValue, float64(r.floodWaits.Load()))
	ch <- prometheus.MustNewConstMetric(r.pausedDesc, prometheus.GaugeValue, r.FloodWaitRemaining().Seconds())
}
