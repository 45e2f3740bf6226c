package window

import (
	"context"
	"time"

	"classbeacon/internal/metrics"
)

// DefaultPollInterval bounds how stale an observer's view can get when change
// notifications are lost.
const DefaultPollInterval = time.Second

// Watch streams snapshots: one immediately, one after every slot change
// notification, and one every interval. If the slot cannot be subscribed to
// the stream falls back to polling. The channel closes when ctx is done.
func (w *Window) Watch(ctx context.Context, interval time.Duration) <-chan Snapshot {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	changes, err := w.slot.Subscribe(ctx)
	if err != nil {
		w.log.Warn("window change subscription failed, polling only", "error", err)
		changes = nil
	}

	out := make(chan Snapshot, 1)
	go func() {
		metrics.WindowWatchers.Inc()
		defer metrics.WindowWatchers.Dec()
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		send := func() bool {
			select {
			case out <- w.Snapshot(ctx):
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
			}
			if !send() {
				return
			}
		}
	}()
	return out
}
