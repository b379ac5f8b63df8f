// Package quota paces generation calls within a per-minute rate and caps them
// per day. Counters live in memory for the life of the process.
package quota

import (
	"context"
	"sync"
	"time"

	"crimson-pen/clock"
	"crimson-pen/config"
)

// GenerationQuotaLimiter spaces calls evenly (one per minute/RequestsPerMinute)
// and refuses calls once RequestsPerDay is spent. The day boundary is midnight
// in the reset zone, which should match the provider's quota reset.
type GenerationQuotaLimiter struct {
	mu    sync.Mutex
	clock clock.Clock
	zone  *time.Location

	dailyLimit int
	interval   time.Duration

	day      string
	used     int
	lastCall time.Time
}

// NewGenerationQuotaLimiter builds a limiter from generation.quota.
// Non-positive limits disable that direction; an unknown zone falls back to UTC.
func NewGenerationQuotaLimiter(q config.QuotaConfig, clk clock.Clock) *GenerationQuotaLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	zone := time.UTC
	if q.ResetZone != "" {
		if loc, err := time.LoadLocation(q.ResetZone); err == nil {
			zone = loc
		}
	}

	l := &GenerationQuotaLimiter{clock: clk, zone: zone}
	if q.RequestsPerDay > 0 {
		l.dailyLimit = q.RequestsPerDay
	}
	if q.RequestsPerMinute > 0 {
		l.interval = time.Minute / time.Duration(q.RequestsPerMinute)
	}
	return l
}

// WaitAndReserve blocks until a call may be made and counts it.
// It returns (false, nil) when the day's quota is spent, and the context
// error when ctx ends while waiting.
func (l *GenerationQuotaLimiter) WaitAndReserve(ctx context.Context) (bool, error) {
	for {
		delay, ok := l.reserve()
		if !ok {
			return false, nil
		}
		if delay <= 0 {
			return true, nil
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return false, err
		}
	}
}

// Used reports how many calls were reserved on the current quota day.
func (l *GenerationQuotaLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.clock.Now())
	return l.used
}

// reserve counts a call when one is allowed now, or returns how long to wait.
func (l *GenerationQuotaLimiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollover(now)
	if l.dailyLimit > 0 && l.used >= l.dailyLimit {
		return 0, false
	}
	if l.interval > 0 && !l.lastCall.IsZero() {
		if wait := l.lastCall.Add(l.interval).Sub(now); wait > 0 {
			return wait, true
		}
	}
	l.used++
	l.lastCall = now
	return 0, true
}

func (l *GenerationQuotaLimiter) rollover(now time.Time) {
	if day := now.In(l.zone).Format("2006-01-02"); day != l.day {
		l.day = day
		l.used = 0
	}
}
