// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/e3db/errors"
)

func TestBackoff(t *testing.T) {
	policy := Backoff(time.Second, 10*time.Second, 2)
	expect := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for retries, wait := range expect {
		keepgoing, dur := policy.Retry(retries)
		if !keepgoing {
			t.Fatal("!keepgoing")
		}
		if got, want := dur, wait; got != want {
			t.Errorf("retry %d: got %v, want %v", retries, got, want)
		}
	}
	// Large retry counts must not overflow.
	if _, dur := policy.Retry(1000); dur != 10*time.Second {
		t.Errorf("got %v, want %v", dur, 10*time.Second)
	}
}

func TestMaxTries(t *testing.T) {
	policy := MaxTries(Backoff(time.Second, time.Second, 1), 3)
	for retries, want := range []bool{true, true, false, false} {
		if got, _ := policy.Retry(retries); got != want {
			t.Errorf("retry %d: got %v, want %v", retries, got, want)
		}
	}
	if ok, dur := MaxTries(nil, 2).Retry(0); !ok || dur != 0 {
		t.Errorf("got %v %v, want true 0", ok, dur)
	}
}

func TestWaitCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Backoff(time.Hour, time.Hour, 1)
	cancel()
	if err := Wait(ctx, policy, 0); !errors.Is(errors.Canceled, err) {
		t.Errorf("got %v, want canceled", err)
	}
}

func TestWaitDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	policy := Backoff(time.Hour, time.Hour, 1)
	if got, want := Wait(ctx, policy, 0), errors.E(errors.Timeout); !errors.Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWaitGiveUp(t *testing.T) {
	if err := Wait(context.Background(), MaxTries(nil, 1), 0); err == nil {
		t.Error("expected error")
	}
	if err := Wait(context.Background(), MaxTries(Backoff(time.Millisecond, time.Millisecond, 1), 2), 0); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

// Sharing policies and retry policies are distinct types.
var (
	_ RetryPolicy = MaxTries(Backoff(time.Millisecond, time.Second, 2), 3)
	_ Policy      = AllowRead
)

func TestPolicyDocuments(t *testing.T) {
	if len(AllowRead.Allow) != 1 || AllowRead.Allow[0].Read == nil || len(AllowRead.Deny) != 0 {
		t.Errorf("bad allow policy %+v", AllowRead)
	}
	if len(DenyRead.Deny) != 1 || DenyRead.Deny[0].Read == nil || len(DenyRead.Allow) != 0 {
		t.Errorf("bad deny policy %+v", DenyRead)
	}
}
