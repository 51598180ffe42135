// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/errors"
	"golang.org/x/sync/singleflight"
)

// LookupClient returns the directory entry of the client with the
// given id. Concurrent lookups of the same client share one request.
func (c *Client) LookupClient(ctx context.Context, id uuid.UUID) (ClientInfo, error) {
	return c.lookup(ctx, "id:"+id.String(), request{
		op:     "lookup client " + id.String(),
		method: http.MethodGet,
		path:   pathf("/v1/storage/clients/%s", id),
		ok:     []int{http.StatusOK},
	})
}

// FindClient returns the directory entry of the client registered with
// email. Concurrent lookups of the same email share one request.
func (c *Client) FindClient(ctx context.Context, email string) (ClientInfo, error) {
	return c.lookup(ctx, "email:"+email, request{
		op:     "find client " + email,
		method: http.MethodPost,
		path:   "/v1/storage/clients/find",
		query:  url.Values{"email": {email}},
		ok:     []int{http.StatusOK},
	})
}

// lookupTimeout bounds a shared lookup when Options.Timeout is unset.
const lookupTimeout = time.Minute

// lookup runs r once for all concurrent callers with the same key. The
// shared request does not inherit the cancellation of whichever caller
// started it; each caller stops waiting when its own context is done.
func (c *Client) lookup(ctx context.Context, key string, r request) (ClientInfo, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		if c.opts.Timeout <= 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, lookupTimeout)
			defer cancel()
		}
		var info ClientInfo
		r.out = &info
		err := c.call(shared, r)
		return info, err
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return ClientInfo{}, errors.E(r.op, ctx.Err())
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return ClientInfo{}, errors.E(errors.NotExist, "client not found", err)
		}
		return ClientInfo{}, err
	}
	return v.(ClientInfo), nil
}
