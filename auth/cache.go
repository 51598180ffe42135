// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package auth obtains and caches the bearer token that authenticates
// calls to the storage service.
package auth

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/log"
)

const (
	// expiryMargin is subtracted from the service's token lifetime so
	// that a token is renewed before it lapses in flight.
	expiryMargin = 60 * time.Second
	minLifetime  = 60 * time.Second
	maxLifetime  = 15 * time.Minute
)

// Token is the result of a credentials exchange.
type Token struct {
	AccessToken string
	// ExpiresIn is the lifetime reported by the service.
	ExpiresIn time.Duration
}

// Exchanger trades the client's credentials for a fresh token.
type Exchanger interface {
	Exchange(ctx context.Context) (Token, error)
}

// ExchangerFunc adapts a function to an Exchanger.
type ExchangerFunc func(ctx context.Context) (Token, error)

// Exchange implements Exchanger.
func (f ExchangerFunc) Exchange(ctx context.Context) (Token, error) { return f(ctx) }

// Cache holds the bearer token of one client identity. Concurrency is
// well-supported:
//  1. Only one renewal is in progress at a time. Callers that arrive
//     while a renewal runs wait for it and then reuse its token.
//  2. If a caller's context is canceled while waiting for another
//     caller's renewal, Token returns immediately with the cancellation
//     error.
//
// A Cache{Exchanger: e} is ready to use. A Cache must not be copied.
type Cache struct {
	// Exchanger renews the token.
	Exchanger Exchanger
	// OnRenew, if set, is called with the outcome of every renewal.
	OnRenew func(error)

	// init supports at-most-once initialization of subsequent fields.
	init sync.Once
	// c is both a semaphore (limit 1) and storage for the token.
	c chan state
	// now is used for faking time in tests.
	now func() time.Time
}

type state struct {
	token     string
	expiresAt time.Time
}

// Token returns the cached token if it has not expired, and otherwise
// renews it. A failed renewal is reported as AuthenticationFailed and
// is not retried here; the cache stays empty so that the next call
// attempts a fresh renewal.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.initialize()
	var st state
	select {
	case <-ctx.Done():
		return "", errors.E("waiting for token renewal", ctx.Err())
	case st = <-c.c:
	}
	defer func() { c.c <- st }()

	if st.token != "" && c.now().Before(st.expiresAt) {
		return st.token, nil
	}
	st = state{}

	tok, err := runNoPanic(func() (Token, error) { return c.Exchanger.Exchange(ctx) })
	if err == nil && tok.AccessToken == "" {
		err = errors.E(errors.Format, "empty access token in response")
	}
	if c.OnRenew != nil {
		c.OnRenew(err)
	}
	if err != nil {
		log.Error.Printf("auth: token renewal failed: %v", err)
		return "", errors.E(errors.AuthenticationFailed, errors.Fatal, "renewing token", err)
	}
	lifetime := Clamp(tok.ExpiresIn)
	st = state{token: tok.AccessToken, expiresAt: c.now().Add(lifetime)}
	log.Debug.Printf("auth: renewed token, valid for %s", lifetime)
	return st.token, nil
}

// Invalidate discards the cached token so that the next call to Token
// renews it. It waits for any renewal in progress.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.initialize()
	select {
	case <-ctx.Done():
		return errors.E(ctx.Err())
	case <-c.c:
	}
	c.c <- state{}
	return nil
}

func (c *Cache) initialize() {
	c.init.Do(func() {
		if c.c == nil {
			c.c = make(chan state, 1)
			c.c <- state{}
		}
		if c.now == nil {
			c.now = time.Now
		}
	})
}

// Clamp converts the token lifetime reported by the service into the
// duration for which the token is cached: one minute less than
// expiresIn, but at least one minute and at most fifteen.
func Clamp(expiresIn time.Duration) time.Duration {
	d := expiresIn - expiryMargin
	if d < minLifetime {
		return minLifetime
	}
	if d > maxLifetime {
		return maxLifetime
	}
	return d
}

func runNoPanic(f func() (Token, error)) (tok Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("auth: recovered panic: %v, stack:\n%v", r, string(debug.Stack()))
		}
	}()
	return f()
}

// setClock is for testing. It must be called before any Token and is
// not concurrency-safe.
func (c *Cache) setClock(now func() time.Time) {
	c.now = now
}
