// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net/http"
)

// RegisterPath is the service path of client registration.
const RegisterPath = "/v1/account/e3db/clients/register"

// Register creates a new client using a registration token. It does not
// require the caller to be authenticated, so c may be built on a plain
// http.Client.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var out RegisterResponse
	err := c.call(ctx, request{
		op:     "register client " + req.Client.Name,
		method: http.MethodPost,
		path:   RegisterPath,
		in:     req,
		out:    &out,
		ok:     []int{http.StatusCreated},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
