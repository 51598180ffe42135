// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package sharing grants and withdraws other clients' read access to
// the caller's records of a type. Sharing takes two steps, neither
// transactional: store an access key wrapped for the reader, then set
// an allow policy. Revocation deletes the key, then sets a deny policy.
// Each step is idempotent, so a failed operation may simply be
// repeated.
package sharing

import (
	"context"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/accesskey"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/log"
	"github.com/grailbio/e3db/transport"
)

// Directory looks up other clients. *transport.Client implements
// Directory.
type Directory interface {
	LookupClient(ctx context.Context, id uuid.UUID) (transport.ClientInfo, error)
	FindClient(ctx context.Context, email string) (transport.ClientInfo, error)
}

// PolicyStore records sharing policies. *transport.Client implements
// PolicyStore.
type PolicyStore interface {
	PutPolicy(ctx context.Context, writerID, userID, readerID uuid.UUID, policy transport.Policy) error
}

// Controller shares the records of one client.
type Controller struct {
	keys     *accesskey.Manager
	dir      Directory
	policies PolicyStore
}

// New returns a controller acting for the client managed by keys.
func New(keys *accesskey.Manager, dir Directory, policies PolicyStore) *Controller {
	return &Controller{keys: keys, dir: dir, policies: policies}
}

// Share allows readerID to read the caller's records of type typ.
func (c *Controller) Share(ctx context.Context, typ string, readerID uuid.UUID) error {
	typ, err := accesskey.CheckType(typ)
	if err != nil {
		return err
	}
	self := c.keys.ClientID()
	ok, err := c.keys.Exists(ctx, self, self, readerID, typ)
	if err != nil {
		return errors.E("sharing", typ, err)
	}
	if !ok {
		info, err := c.dir.LookupClient(ctx, readerID)
		if err != nil {
			return errors.E("sharing", typ, err)
		}
		readerPublic, err := publicKey(info)
		if err != nil {
			return err
		}
		if err := c.keys.Grant(ctx, self, readerID, typ, readerPublic); err != nil {
			return errors.E("sharing", typ, err)
		}
	}
	if err := c.policies.PutPolicy(ctx, self, self, readerID, transport.AllowRead); err != nil {
		return errors.E("sharing", typ, err)
	}
	log.Debug.Printf("sharing: shared %q with %s", typ, readerID)
	return nil
}

// ShareEmail resolves email to a client and shares typ with it.
func (c *Controller) ShareEmail(ctx context.Context, typ, email string) error {
	info, err := c.dir.FindClient(ctx, email)
	if err != nil {
		return errors.E("sharing", typ, err)
	}
	return c.Share(ctx, typ, info.ClientID)
}

// Revoke withdraws readerID's access to the caller's records of type
// typ.
func (c *Controller) Revoke(ctx context.Context, typ string, readerID uuid.UUID) error {
	typ, err := accesskey.CheckType(typ)
	if err != nil {
		return err
	}
	self := c.keys.ClientID()
	if err := c.keys.Revoke(ctx, self, readerID, typ); err != nil {
		return errors.E("revoking", typ, err)
	}
	if err := c.policies.PutPolicy(ctx, self, self, readerID, transport.DenyRead); err != nil {
		return errors.E("revoking", typ, err)
	}
	log.Debug.Printf("sharing: revoked %q from %s", typ, readerID)
	return nil
}

// RevokeEmail resolves email to a client and revokes typ from it.
func (c *Controller) RevokeEmail(ctx context.Context, typ, email string) error {
	info, err := c.dir.FindClient(ctx, email)
	if err != nil {
		return errors.E("revoking", typ, err)
	}
	return c.Revoke(ctx, typ, info.ClientID)
}

func publicKey(info transport.ClientInfo) (encryption.Key, error) {
	b, err := encryption.DecodeBase64URL(info.PublicKey.Curve25519)
	if err != nil {
		return nil, errors.E(errors.Format, "decoding public key of client", info.ClientID.String(), err)
	}
	key := encryption.Key(b)
	if err := key.Check("public key of client " + info.ClientID.String()); err != nil {
		return nil, err
	}
	return key, nil
}
