// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package fakeservice

import (
	"net/http"

	"github.com/grailbio/e3db/auth"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/encryption/nacl"
	"github.com/grailbio/e3db/transport"
)

// Identity is a client registered with the service, holding a fresh
// NaCl key pair and a transport that authenticates as the client.
type Identity struct {
	Credentials
	Email     string
	Keys      encryption.KeyPair
	Tokens    *auth.Cache
	Transport *transport.Client
}

// NewIdentity registers a client named name with a new key pair. Its
// email address is name@example.com.
func (s *Service) NewIdentity(name string, opts transport.Options) (*Identity, error) {
	keys, err := encryption.NewKeyPair(nacl.New())
	if err != nil {
		return nil, err
	}
	public, err := keys.Public.MarshalText()
	if err != nil {
		return nil, err
	}
	email := name + "@example.com"
	creds := s.AddClient(name, email, string(public))
	tokens := &auth.Cache{Exchanger: auth.NewOAuth2Exchanger(s.URL(), creds.APIKeyID, creds.APISecret, s.HTTPClient())}
	hc := &http.Client{Transport: &auth.Transport{Source: tokens, Base: s.HTTPClient().Transport}}
	return &Identity{
		Credentials: creds,
		Email:       email,
		Keys:        keys,
		Tokens:      tokens,
		Transport:   transport.New(s.URL(), hc, opts),
	}, nil
}
