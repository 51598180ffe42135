// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/grailbio/e3db/config"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/encryption/nacl"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/transport"
)

// NewPrivateKey returns a new NaCl private key as unpadded base64url
// text.
func NewPrivateKey() (string, error) {
	private, err := nacl.New().GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	defer private.Zero()
	text, err := private.MarshalText()
	return string(text), err
}

// PublicKey returns the base64url public key of the base64url private
// key private.
func PublicKey(private string) (string, error) {
	var key encryption.Key
	if err := key.UnmarshalText([]byte(private)); err != nil {
		return "", err
	}
	defer key.Zero()
	public, err := nacl.New().PublicKey(key)
	if err != nil {
		return "", err
	}
	text, err := public.MarshalText()
	return string(text), err
}

// RegisterOptions describes a client to register.
type RegisterOptions struct {
	// APIURL is the service endpoint; config.DefaultAPIURL if empty.
	APIURL string
	// Token is the registration token issued to the account.
	Token string
	// Name names the client. The service also uses it as the client's
	// email address when it has the form of one.
	Name string
	// PrivateKey is the client's private key. A new key is generated
	// if it is empty.
	PrivateKey encryption.Key
	// HTTPClient is used to reach the service. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Register registers a new client with the service and returns its
// configuration, ready to be saved with config.Save.
func Register(ctx context.Context, opts RegisterOptions) (config.Config, error) {
	if strings.TrimSpace(opts.Token) == "" || strings.TrimSpace(opts.Name) == "" {
		return config.Config{}, errors.E(errors.Invalid, "registration requires a token and a name")
	}
	cfg := config.Default()
	if opts.APIURL != "" {
		cfg.APIURL = opts.APIURL
	}
	p := nacl.New()
	private := opts.PrivateKey
	if len(private) == 0 {
		var err error
		if private, err = p.GeneratePrivateKey(); err != nil {
			return config.Config{}, err
		}
	}
	public, err := p.PublicKey(private)
	if err != nil {
		return config.Config{}, err
	}
	text, err := public.MarshalText()
	if err != nil {
		return config.Config{}, err
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := transport.New(cfg.APIURL, hc, transport.Options{}).Register(ctx, transport.RegisterRequest{
		Token: opts.Token,
		Client: transport.RegisterClient{
			Name:      opts.Name,
			PublicKey: transport.PublicKey{Curve25519: string(text)},
		},
	})
	if err != nil {
		return config.Config{}, err
	}
	cfg.ClientID = resp.ClientID
	cfg.APIKeyID = resp.APIKeyID
	cfg.APISecret = resp.APISecret
	if strings.Contains(opts.Name, "@") {
		cfg.ClientEmail = opts.Name
	}
	cfg.PublicKey = public
	cfg.PrivateKey = private
	return cfg, nil
}
