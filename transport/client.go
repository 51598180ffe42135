// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package transport implements the HTTP calls made to the storage
// service. Responses are mapped onto the error kinds of package errors:
// 403 is NotAllowed, 404 is NotExist, 409 is VersionConflict, and any
// other unexpected status is Remote, carrying the status code. Failures
// to reach the service are Net errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/log"
	"golang.org/x/sync/singleflight"
)

// maxErrorBody bounds how much of an error response is kept in the
// error message.
const maxErrorBody = 512

// Options configures a Client.
type Options struct {
	// Timeout bounds each HTTP request, including retries of it.
	// Zero means no per-request timeout.
	Timeout time.Duration
	// Retries is the number of times an idempotent request is retried
	// after a temporary failure.
	Retries int
}

// Client makes calls to the storage service. It is safe for concurrent
// use.
type Client struct {
	base   string
	http   *http.Client
	opts   Options
	policy RetryPolicy
	group  singleflight.Group
}

// New returns a client for the service at apiURL. Requests are made
// with httpClient, which is expected to authenticate them (see
// auth.Transport); registration requests are unauthenticated and use
// the same client's underlying transport only if it passes through
// requests that already carry credentials.
func New(apiURL string, httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		base: strings.TrimSuffix(apiURL, "/"),
		http: httpClient,
		opts: opts,
	}
	if opts.Retries > 0 {
		c.policy = MaxTries(Backoff(100*time.Millisecond, 2*time.Second, 2), opts.Retries+1)
	}
	return c
}

// request describes a single service call.
type request struct {
	// op names the call in errors.
	op     string
	method string
	path   string
	query  url.Values
	in     interface{}
	out    interface{}
	// ok lists the statuses that indicate success.
	ok []int
	// header is added to the request.
	header http.Header
}

func (r *request) idempotent() bool {
	return r.method == http.MethodGet
}

// call performs r, retrying idempotent requests after temporary
// failures.
func (c *Client) call(ctx context.Context, r request) error {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	for retry := 0; ; retry++ {
		err := c.once(ctx, r)
		if err == nil || !r.idempotent() || c.policy == nil || !errors.IsTemporary(err) {
			return err
		}
		log.Debug.Printf("transport: %s: retrying after: %v", r.op, err)
		if werr := Wait(ctx, c.policy, retry); werr != nil {
			log.Debug.Printf("transport: %s: giving up: %v", r.op, werr)
			return err
		}
	}
}

func (c *Client) once(ctx context.Context, r request) (err error) {
	var body io.Reader
	if r.in != nil {
		b, err := json.Marshal(r.in)
		if err != nil {
			return errors.E(errors.Invalid, r.op, "encoding request", err)
		}
		body = bytes.NewReader(b)
	}
	u := c.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return errors.E(errors.Invalid, r.op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(ctx, r.op, err)
	}
	defer errors.CleanUp(resp.Body.Close, &err)
	if !contains(r.ok, resp.StatusCode) {
		return statusError(r.op, resp)
	}
	if r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return errors.E(errors.Remote, errors.Status(resp.StatusCode), r.op, "decoding response", err)
	}
	return nil
}

// networkError classifies an error returned by http.Client.Do.
// Errors that already carry a kind, such as a failed token renewal,
// keep it.
func networkError(ctx context.Context, op string, err error) error {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return errors.E(op, e)
	}
	if ctx.Err() != nil {
		return errors.E(op, ctx.Err())
	}
	return errors.E(errors.Net, errors.Temporary, op, err)
}

// statusError maps an unexpected response status onto an error kind.
func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	status := errors.Status(resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusForbidden:
		return errors.E(errors.NotAllowed, status, op, msg)
	case http.StatusNotFound:
		return errors.E(errors.NotExist, status, op, msg)
	case http.StatusConflict:
		return errors.E(errors.VersionConflict, status, op, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errors.E(errors.Remote, errors.Temporary, status, op, msg)
	default:
		return errors.E(errors.Remote, status, op, msg)
	}
}

func contains(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func pathf(format string, args ...interface{}) string {
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			args[i] = url.PathEscape(s)
		}
	}
	return fmt.Sprintf(format, args...)
}
