package handlers

import (
	"fmt"
	"time"

	"github.com/cuemby/ec2-spot-converter/pkg/metrics"
)

// pollUntil retries predicate every interval, up to maxAttempts times,
// naming step in its metrics and error messages. predicate returns
// (satisfied, error) — a non-nil error aborts the poll immediately.
func pollUntil(step string, maxAttempts int, interval time.Duration, sleep func(time.Duration), predicate func(attempt int) (bool, error)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		satisfied, err := predicate(attempt)
		if err != nil {
			metrics.PollAttemptsTotal.WithLabelValues(step, "error").Inc()
			return err
		}
		if satisfied {
			metrics.PollAttemptsTotal.WithLabelValues(step, "satisfied").Inc()
			return nil
		}
		metrics.PollAttemptsTotal.WithLabelValues(step, "pending").Inc()
		if attempt < maxAttempts {
			sleep(interval)
		}
	}
	metrics.PollAttemptsTotal.WithLabelValues(step, "exhausted").Inc()
	return fmt.Errorf("%s: timed out after %d attempts (interval %s)", step, maxAttempts, interval)
}
