// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/grailbio/e3db/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenPath is the service path of the client credentials exchange.
const TokenPath = "/v1/auth/token"

// OAuth2Exchanger performs the client credentials grant against the
// service's token endpoint, authenticating with HTTP Basic auth.
type OAuth2Exchanger struct {
	config clientcredentials.Config
	client *http.Client
	now    func() time.Time
}

// NewOAuth2Exchanger returns an exchanger for the given API key pair.
// The exchange is made with client, or http.DefaultClient if nil; the
// client must not itself add bearer tokens.
func NewOAuth2Exchanger(apiURL, keyID, secret string, client *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{
		config: clientcredentials.Config{
			ClientID:     keyID,
			ClientSecret: secret,
			TokenURL:     apiURL + TokenPath,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		client: client,
		now:    time.Now,
	}
}

// Exchange implements Exchanger.
func (e *OAuth2Exchanger) Exchange(ctx context.Context) (Token, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	tok, err := e.config.Token(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if goerrors.As(err, &rerr) && rerr.Response != nil {
			return Token{}, errors.E(errors.Remote, errors.Status(rerr.Response.StatusCode), "token exchange", err)
		}
		return Token{}, errors.E("token exchange", err)
	}
	return Token{AccessToken: tok.AccessToken, ExpiresIn: e.expiresIn(tok)}, nil
}

// expiresIn reads the raw expires_in of the response, falling back to
// the expiry computed by oauth2.
func (e *OAuth2Exchanger) expiresIn(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry.Sub(e.now())
	}
	return 0
}
