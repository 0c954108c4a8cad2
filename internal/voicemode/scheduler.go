package voicemode

import (
	"context"
	"time"
)

// DefaultTickInterval paces the monitoring loop: roughly one tick per 60 Hz
// frame.
const DefaultTickInterval = 16 * time.Millisecond

// Scheduler runs a closure repeatedly until ctx is cancelled. Implementations
// must never run fn concurrently with itself.
type Scheduler interface {
	Every(ctx context.Context, d time.Duration, fn func())
}

// TickerScheduler is the production [Scheduler], backed by a [time.Ticker] on
// its own goroutine.
type TickerScheduler struct{}

// Every implements [Scheduler]. It returns immediately.
func (TickerScheduler) Every(ctx context.Context, d time.Duration, fn func()) {
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
