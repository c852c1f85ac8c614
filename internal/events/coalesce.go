package events

import (
	"context"
	"time"
)

// Coalesce forwards at most one value per window from in: the first value
// opens a window and the latest value seen when it ends is delivered. The
// output closes when in closes or ctx is done.
func Coalesce[T any](ctx context.Context, in <-chan T, window time.Duration) <-chan T {
	out := make(chan T, 1)

	go func() {
		defer close(out)

		var (
			latest  T
			pending bool
			timer   *time.Timer
			fire    <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					if pending {
						deliver(out, latest)
					}
					return
				}
				latest = v
				if !pending {
					pending = true
					timer = time.NewTimer(window)
					fire = timer.C
				}
			case <-fire:
				fire = nil
				pending = false
				deliver(out, latest)
			}
		}
	}()

	return out
}

// deliver replaces a stale undelivered value so readers always see the latest.
func deliver[T any](out chan T, v T) {
	select {
	case out <- v:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- v:
	default:
	}
}
