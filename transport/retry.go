// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/grailbio/e3db/errors"
)

// A RetryPolicy decides whether and when a failed idempotent request is
// tried again.
type RetryPolicy interface {
	// Retry tells whether a new retry should be attempted,
	// and after how long.
	Retry(retry int) (bool, time.Duration)
}

// Wait queries the provided policy at the provided retry number and
// sleeps until the next try should be attempted. Wait returns an
// error if the policy prohibits further tries, if the context was
// canceled, or if its deadline would run out while waiting for the
// next try.
func Wait(ctx context.Context, policy RetryPolicy, retry int) error {
	keepgoing, wait := policy.Retry(retry)
	if !keepgoing {
		return errors.E(fmt.Sprintf("gave up after %d tries", retry+1))
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		return errors.E(errors.Timeout, "ran out of time while waiting for retry")
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.E(ctx.Err())
	}
}

type backoff struct {
	factor       float64
	initial, max time.Duration
}

// Backoff returns a RetryPolicy that initially waits for the amount of
// time specified by parameter initial; on each try this value is
// multiplied by the provided factor, up to the max duration.
func Backoff(initial, max time.Duration, factor float64) RetryPolicy {
	return &backoff{initial: initial, max: max, factor: factor}
}

func (b *backoff) Retry(retries int) (bool, time.Duration) {
	wait := float64(b.initial) * math.Pow(b.factor, float64(retries))
	if wait > float64(b.max) {
		return true, b.max
	}
	return true, time.Duration(wait)
}

type maxtries struct {
	policy RetryPolicy
	max    int
}

// MaxTries returns a policy that permits at most n attempts in total,
// deferring to policy for the wait between them.
func MaxTries(policy RetryPolicy, n int) RetryPolicy {
	if n < 1 {
		panic("transport.MaxTries: n < 1")
	}
	return &maxtries{policy, n - 1}
}

func (m *maxtries) Retry(retries int) (bool, time.Duration) {
	if retries >= m.max {
		return false, 0
	}
	if m.policy != nil {
		return m.policy.Retry(retries)
	}
	return true, 0
}
