package runner

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff returns the retry schedule for task attempts: exponential with
// jitter, never giving up on its own. Attempt counting decides when a task
// is done retrying, not elapsed time.
func newBackOff(base time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = 16 * base
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
