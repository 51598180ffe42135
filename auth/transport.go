// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"net/http"
)

// TokenSource supplies bearer tokens. *Cache implements TokenSource.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Transport is an http.RoundTripper that authenticates requests with a
// bearer token from Source. Requests that already carry an
// Authorization header are passed through unchanged.
type Transport struct {
	Source TokenSource
	// Base is the underlying RoundTripper; http.DefaultTransport if nil.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.base().RoundTrip(req)
	}
	tok, err := t.Source.Token(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+tok)
	return t.base().RoundTrip(req2)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
