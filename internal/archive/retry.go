package archive

import (
	"context"
	"time"
)

// BackoffSchedule is the sleep taken between successive attempts of one
// participant unit. Attempt n sleeps schedule[n-1] first (the last
// entry repeats if the schedule is shorter than the attempt count).
type BackoffSchedule []time.Duration

// DefaultBackoff gives 3-attempt units a 1s then 2s pause.
var DefaultBackoff = BackoffSchedule{time.Second, 2 * time.Second}

func (s BackoffSchedule) delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt >= len(s) {
		return s[len(s)-1]
	}
	return s[attempt]
}

// withBackoff runs fn up to attempts times. Each attempt re-derives its
// writes from scratch, so retrying a half-finished attempt is safe.
// Returns the number of attempts actually made and the last error (nil
// on success). Context cancellation cuts the backoff sleep short and
// stops retrying.
func withBackoff(ctx context.Context, attempts int, schedule BackoffSchedule, fn func(context.Context) error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(schedule.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return attempt + 1, nil
		}
	}
	return attempts, lastErr
}
