// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package client is the entry point of the record store client. A
// Client is built once from a configuration and owns every component
// an application needs: the crypto provider, a worker pool, the bearer
// token cache, the service transport, the access key manager, the
// sharing controller and the record store.
//
// Operations run on the client's worker pool and return Futures:
//
//	c, err := client.New(cfg, client.Options{})
//	...
//	rec, err := c.Write(ctx, "contact", map[string]string{"name": "Alice"}, nil).Wait(ctx)
//
// When the pool's queue is full, operations fail immediately with
// errors.Busy.
package client

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/accesskey"
	"github.com/grailbio/e3db/auth"
	"github.com/grailbio/e3db/config"
	"github.com/grailbio/e3db/crypto/encryption"
	_ "github.com/grailbio/e3db/crypto/encryption/nacl" // registers "nacl"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/log"
	"github.com/grailbio/e3db/record"
	"github.com/grailbio/e3db/sharing"
	"github.com/grailbio/e3db/sync/workerpool"
	"github.com/grailbio/e3db/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// Options holds the settings of a Client that do not belong in a
// configuration file.
type Options struct {
	// HTTPClient is the base client used to reach the service.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Executor runs future callbacks. Defaults to Inline.
	Executor Executor
	// Registerer receives the client's metrics. If nil, metrics are
	// kept in a private registry.
	Registerer prometheus.Registerer
}

// Client is a record store client. It is safe for concurrent use.
type Client struct {
	cfg      config.Config
	provider encryption.Provider
	exec     Executor
	pool     *workerpool.Pool
	cancel   context.CancelFunc
	metrics  *Metrics

	tokens    *auth.Cache
	transport *transport.Client
	keys      *accesskey.Manager
	sharing   *sharing.Controller
	records   *record.Store

	mu     sync.Mutex
	closed bool
}

// New returns a client for the identity described by cfg.
func New(cfg config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := encryption.Lookup(cfg.CryptoProvider)
	if err != nil {
		return nil, err
	}
	public, err := provider.PublicKey(cfg.PrivateKey)
	if err != nil {
		return nil, errors.E("deriving public key", err)
	}
	if len(cfg.PublicKey) != 0 && !public.Equal(cfg.PublicKey) {
		return nil, errors.E(errors.Invalid, "public_key does not match private_key")
	}
	metrics, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	tokens := &auth.Cache{
		Exchanger: auth.NewOAuth2Exchanger(cfg.APIURL, cfg.APIKeyID, cfg.APISecret, base),
		OnRenew:   metrics.renewed,
	}
	hc := &http.Client{
		Transport:     &auth.Transport{Source: tokens, Base: base.Transport},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
	}
	tc := transport.New(cfg.APIURL, hc, transport.Options{
		Timeout: cfg.RequestTimeout,
		Retries: cfg.RequestRetries,
	})
	keys := accesskey.NewManager(cfg.ClientID, encryption.KeyPair{Public: public, Private: cfg.PrivateKey}, provider, tc)
	ctx, cancel := context.WithCancel(context.Background())
	exec := opts.Executor
	if exec == nil {
		exec = Inline
	}
	c := &Client{
		cfg:       cfg,
		provider:  provider,
		exec:      exec,
		pool:      workerpool.New(ctx, workerpool.Options{MaxWorkers: cfg.MaxWorkers, QueueDepth: cfg.QueueDepth}),
		cancel:    cancel,
		metrics:   metrics,
		tokens:    tokens,
		transport: tc,
		keys:      keys,
		sharing:   sharing.New(keys, tc, tc),
		records:   record.NewStore(keys, tc),
	}
	log.Debug.Printf("client %s: using %s at %s", cfg.ClientID, cfg.CryptoProvider, cfg.APIURL)
	return c, nil
}

// ClientID returns the client's identifier.
func (c *Client) ClientID() uuid.UUID { return c.cfg.ClientID }

// PublicKey returns the client's public key.
func (c *Client) PublicKey() encryption.Key { return c.keys.PublicKey() }

// Metrics returns the client's metrics.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Close waits for queued operations to complete and releases the
// client's workers. Operations submitted after Close fail.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.pool.Close()
	c.cancel()
}

// submit runs fn on the client's pool and returns its future. The
// future fails with errors.Busy if the queue is full.
func submit[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T](c.exec)
	var zero T
	// Submitting under c.mu orders every submission before or after
	// Close marks the client closed.
	c.mu.Lock()
	closed := c.closed
	ok := !closed && c.pool.Submit(func(context.Context) {
		value, err := runNoPanic(ctx, op, fn)
		c.metrics.observe(op, err)
		c.metrics.QueueDepth.Set(float64(c.pool.Len()))
		f.resolve(value, err)
	})
	c.mu.Unlock()
	switch {
	case closed:
		err := errors.E(errors.Invalid, op, "client is closed")
		c.metrics.observe(op, err)
		f.resolve(zero, err)
	case !ok:
		c.metrics.QueueDepth.Set(float64(c.pool.Len()))
		c.metrics.Busy.Inc()
		err := errors.E(errors.Busy, op, "work queue is full")
		c.metrics.observe(op, err)
		f.resolve(zero, err)
	default:
		c.metrics.QueueDepth.Set(float64(c.pool.Len()))
	}
	return f
}

func runNoPanic[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error.Printf("%s: panic: %v\n%s", op, r, debug.Stack())
			var zero T
			value, err = zero, errors.E(op, fmt.Sprintf("panic: %v", r))
		}
	}()
	return fn(ctx)
}

// Write encrypts fields and stores them as a new record of type typ.
// Plain metadata is stored unencrypted.
func (c *Client) Write(ctx context.Context, typ string, fields, plain map[string]string) *Future[*record.Record] {
	return submit(ctx, c, "write", func(ctx context.Context) (*record.Record, error) {
		return c.records.Write(ctx, typ, fields, plain)
	})
}

// Update replaces record id, provided that version is its current
// version.
func (c *Client) Update(ctx context.Context, id uuid.UUID, version, typ string, fields, plain map[string]string) *Future[*record.Record] {
	return submit(ctx, c, "update", func(ctx context.Context) (*record.Record, error) {
		return c.records.Update(ctx, id, version, typ, fields, plain)
	})
}

// Delete deletes record id at version.
func (c *Client) Delete(ctx context.Context, id uuid.UUID, version string) *Future[struct{}] {
	return submit(ctx, c, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.records.Delete(ctx, id, version)
	})
}

// Read reads and decrypts record id.
func (c *Client) Read(ctx context.Context, id uuid.UUID) *Future[*record.Record] {
	return submit(ctx, c, "read", func(ctx context.Context) (*record.Record, error) {
		return c.records.Read(ctx, id)
	})
}

// Query returns one page of the records selected by params.
func (c *Client) Query(ctx context.Context, params record.QueryParams) *Future[*record.QueryResult] {
	return submit(ctx, c, "query", func(ctx context.Context) (*record.QueryResult, error) {
		return c.records.Query(ctx, params)
	})
}

// Share allows reader to read the client's records of type typ.
func (c *Client) Share(ctx context.Context, typ string, reader uuid.UUID) *Future[struct{}] {
	return submit(ctx, c, "share", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.sharing.Share(ctx, typ, reader)
	})
}

// ShareEmail is Share for the client registered with email.
func (c *Client) ShareEmail(ctx context.Context, typ, email string) *Future[struct{}] {
	return submit(ctx, c, "share", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.sharing.ShareEmail(ctx, typ, email)
	})
}

// Revoke withdraws reader's access to the client's records of type typ.
func (c *Client) Revoke(ctx context.Context, typ string, reader uuid.UUID) *Future[struct{}] {
	return submit(ctx, c, "revoke", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.sharing.Revoke(ctx, typ, reader)
	})
}

// RevokeEmail is Revoke for the client registered with email.
func (c *Client) RevokeEmail(ctx context.Context, typ, email string) *Future[struct{}] {
	return submit(ctx, c, "revoke", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.sharing.RevokeEmail(ctx, typ, email)
	})
}

// Encrypted is a record encrypted locally, without storing it.
type Encrypted struct {
	WriterID, UserID uuid.UUID
	Type             string
	Data             map[string]string
}

// EncryptRecord encrypts fields under the client's access key for typ,
// creating the key if needed, but does not store them.
func (c *Client) EncryptRecord(ctx context.Context, typ string, fields map[string]string) *Future[*Encrypted] {
	return submit(ctx, c, "encrypt", func(ctx context.Context) (*Encrypted, error) {
		typ, err := accesskey.CheckType(typ)
		if err != nil {
			return nil, err
		}
		ak, enc, err := c.records.Codec().EncryptRecord(ctx, typ, fields)
		if err != nil {
			return nil, err
		}
		ak.Zero()
		self := c.cfg.ClientID
		return &Encrypted{WriterID: self, UserID: self, Type: typ, Data: enc}, nil
	})
}

// DecryptRecord decrypts a record encrypted by EncryptRecord, by the
// client or by a writer who shared typ with it.
func (c *Client) DecryptRecord(ctx context.Context, enc *Encrypted) *Future[map[string]string] {
	return submit(ctx, c, "decrypt", func(ctx context.Context) (map[string]string, error) {
		if enc == nil {
			return nil, errors.E(errors.Invalid, "nil record")
		}
		return c.records.Codec().DecryptRecord(ctx, enc.WriterID, enc.UserID, enc.Type, enc.Data)
	})
}
