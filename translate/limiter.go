package translate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces out completion requests to stay within a requests-per-
// minute budget and holds the global pause set by a 429 answer. A nil
// *Limiter never blocks.
type Limiter struct {
	lim   *rate.Limiter
	state rateLimitState
}

// NewLimiter returns a limiter allowing rpm requests per minute, one at a
// time. rpm <= 0 disables spacing; 429 pauses still apply.
func NewLimiter(rpm int) *Limiter {
	l := &Limiter{}
	if rpm > 0 {
		l.lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return l
}

// Wait blocks until the next request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	if err := l.state.waitIfPaused(ctx); err != nil {
		return err
	}
	if l.lim == nil {
		return ctx.Err()
	}
	if err := l.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (l *Limiter) pause(d time.Duration) {
	if l == nil {
		return
	}
	l.state.pause(d)
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause shared by every client of a run)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := time.Now().Add(duration)
	if end.After(r.pauseEnd) {
		r.pauseEnd = end
	}
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}
