// Package cache coordinates speedtest invocations behind a staleness
// window so concurrent scrapes share one measurement instead of each
// spawning a subprocess.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tzockt/speedtest-exporter/pkg/speedtest"
)

// Runner is the measurement trigger. *speedtest.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context) (*speedtest.Result, error)
}

// Coordinator owns the current measurement record. At most one
// invocation is in flight at any time; callers that miss the cache
// while a run is in flight all wait for that run's outcome.
type Coordinator struct {
	runner   Runner
	ttl      time.Duration
	debounce time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu          sync.RWMutex
	current     *speedtest.Result // last successful record, nil until first success
	lastAttempt time.Time         // completion time of the last run, success or not
	lastFailed  bool
}

// New builds a Coordinator. ttl of zero disables reuse entirely (every
// scrape measures). debounce suppresses re-invocation for that long
// after a failed run; zero disables the suppression.
func New(runner Runner, ttl, debounce time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		runner:   runner,
		ttl:      ttl,
		debounce: debounce,
		logger:   logger,
	}
}

// Current returns the record to serve for one scrape. It never returns
// an error: a failed or suppressed measurement yields a record with
// Success=false and zeroed values.
//
// The measurement itself runs detached from ctx. A scraper that
// disconnects mid-wait must not cancel a run other callers are waiting
// on; the runner's own deadline bounds the run instead.
func (c *Coordinator) Current(ctx context.Context) *speedtest.Result {
	if rec := c.fresh(); rec != nil {
		return rec
	}

	runCtx := context.WithoutCancel(ctx)
	v, _, shared := c.group.Do("speedtest", func() (interface{}, error) {
		// Losers of the trigger race land here after the winner
		// stored its record; don't measure again.
		if rec := c.fresh(); rec != nil {
			return rec, nil
		}
		if rec := c.suppressed(); rec != nil {
			return rec, nil
		}
		return c.refresh(runCtx), nil
	})

	rec := v.(*speedtest.Result)
	if shared {
		c.logger.Debug("scrape joined in-flight measurement", "measuredAt", rec.MeasuredAt)
	}
	return rec
}

// fresh returns the current record while it is inside the reuse
// window. Only successful records are ever stored, so age is the only
// check needed.
func (c *Coordinator) fresh() *speedtest.Result {
	if c.ttl <= 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil || time.Since(c.current.MeasuredAt) >= c.ttl {
		return nil
	}
	return c.current
}

// suppressed synthesizes a failure record while the debounce window
// after a failed run is still open, so bursts of failing scrapes do
// not hammer the tool.
func (c *Coordinator) suppressed() *speedtest.Result {
	if c.debounce <= 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.lastFailed || time.Since(c.lastAttempt) >= c.debounce {
		return nil
	}
	return speedtest.FailedResult(c.lastAttempt)
}

// refresh performs one measurement and updates the stored state. The
// caller holds the single-flight slot, so there is no concurrent
// writer.
func (c *Coordinator) refresh(ctx context.Context) *speedtest.Result {
	rec, err := c.runner.Run(ctx)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastAttempt = now
	if err != nil {
		c.lastFailed = true
		c.logger.Error("speedtest failed", "error", err)
		// Failed attempts are never stored as the current record.
		return speedtest.FailedResult(now)
	}

	c.lastFailed = false
	c.current = rec
	return rec
}
