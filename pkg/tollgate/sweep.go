package tollgate

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EvictIdle removes buckets that have not been checked within the max idle
// duration. Returns the number of buckets removed. A zero max idle disables
// eviction.
func (l *Limiter) EvictIdle(ctx context.Context) (int, error) {
	if l.maxIdle <= 0 {
		return 0, nil
	}

	removed, err := l.store.EvictIdle(ctx, l.maxIdle, l.clock.Now())
	if err != nil {
		return removed, fmt.Errorf("evict idle buckets: %w", err)
	}
	if removed > 0 {
		l.logger.DebugContext(ctx, "evicted idle buckets", slog.Int("removed", removed))
	}
	return removed, nil
}

// Run evicts idle buckets every sweep interval until ctx is done.
// Sweep errors are logged and do not stop the loop. Run returns nil when
// ctx is cancelled so it can run under an errgroup.
func (l *Limiter) Run(ctx context.Context) error {
	if l.maxIdle <= 0 || l.sweepInterval <= 0 {
		// Cleanup disabled
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := l.EvictIdle(ctx); err != nil && ctx.Err() == nil {
				l.logger.WarnContext(ctx, "idle bucket sweep failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// StartBackgroundCleanup runs Run in a goroutine.
// Call the returned function to stop it; it waits for the goroutine to exit.
func (l *Limiter) StartBackgroundCleanup() func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	return func() {
		cancel()
		<-done
	}
}
