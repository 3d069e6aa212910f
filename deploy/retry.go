package deploy

import (
	"context"
	"errors"
	"time"
)

// Clock abstracts time so retry and poll policies are testable without
// real delay
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy bounds retries of one operation with exponential backoff
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Do runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts. retryable decides which errors are worth another
// attempt; a non-retryable error is returned as-is. Returns the last
// error once the budget is exhausted.
func (p RetryPolicy) Do(ctx context.Context, clock Clock, fn func() error, retryable func(error) bool) error {
	backoff := p.InitialBackoff
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if sleepErr := clock.Sleep(ctx, backoff); sleepErr != nil {
			return sleepErr
		}
		backoff = time.Duration(float64(backoff) * p.BackoffMultiplier)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return err
}

// ErrWaitTimeout is returned by PollPolicy.Wait when the overall budget
// elapses before check reports done
var ErrWaitTimeout = errors.New("wait timed out")

// PollPolicy bounds a fixed-interval wait for a remote state change
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Wait calls check at each interval until it reports done, it returns an
// error, the overall timeout elapses, or ctx ends. The first check runs
// immediately.
func (p PollPolicy) Wait(ctx context.Context, clock Clock, check func(ctx context.Context) (bool, error)) error {
	deadline := clock.Now().Add(p.Timeout)
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !clock.Now().Add(p.Interval).Before(deadline) {
			return ErrWaitTimeout
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}
