// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package record encrypts and decrypts records and stores them with the
// service. Every field value of a record is encrypted independently
// under a fresh data key, which is in turn encrypted under the access
// key of the record's type.
package record

import (
	"context"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/accesskey"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/envelope"
	"github.com/grailbio/e3db/errors"
)

// Codec encrypts and decrypts field maps with access keys resolved by
// an accesskey.Manager.
type Codec struct {
	keys *accesskey.Manager
}

// NewCodec returns a codec that resolves access keys with keys.
func NewCodec(keys *accesskey.Manager) *Codec {
	return &Codec{keys: keys}
}

// EncryptRecord encrypts fields under the caller's own access key for
// typ, creating the key if needed. It returns the access key along with
// the encrypted fields; callers should Zero the key when done.
func (c *Codec) EncryptRecord(ctx context.Context, typ string, fields map[string]string) (encryption.Key, map[string]string, error) {
	if fields == nil {
		return nil, nil, errors.E(errors.Invalid, "nil field map")
	}
	typ, err := accesskey.CheckType(typ)
	if err != nil {
		return nil, nil, err
	}
	ak, err := c.keys.EnsureOwn(ctx, typ)
	if err != nil {
		return nil, nil, errors.E("encrypting record", err)
	}
	enc, err := c.EncryptFields(ak, fields)
	if err != nil {
		ak.Zero()
		return nil, nil, err
	}
	return ak, enc, nil
}

// DecryptRecord decrypts the fields of a record of type typ written by
// writerID about userID. It fails with NotShared if the caller holds no
// access key for the record.
func (c *Codec) DecryptRecord(ctx context.Context, writerID, userID uuid.UUID, typ string, enc map[string]string) (map[string]string, error) {
	if enc == nil {
		return nil, errors.E(errors.Invalid, "nil field map")
	}
	typ, err := accesskey.CheckType(typ)
	if err != nil {
		return nil, err
	}
	ak, ok, err := c.keys.Fetch(ctx, writerID, userID, c.keys.ClientID(), typ)
	if err != nil {
		return nil, errors.E("decrypting record", err)
	}
	if !ok {
		return nil, errors.E(errors.NotShared, "no access key for records of type "+typ+" written by "+writerID.String())
	}
	defer ak.Zero()
	return c.DecryptFields(ak, enc)
}

// EncryptFields encrypts fields under ak.
func (c *Codec) EncryptFields(ak encryption.Key, fields map[string]string) (map[string]string, error) {
	enc, err := envelope.EncodeFields(ak, fields, c.keys.Provider())
	if err != nil {
		return nil, errors.E("encrypting record", err)
	}
	return enc, nil
}

// DecryptFields decrypts fields with ak. Any failure aborts the whole
// map.
func (c *Codec) DecryptFields(ak encryption.Key, enc map[string]string) (map[string]string, error) {
	fields, err := envelope.DecodeFields(ak, enc, c.keys.Provider())
	if err != nil {
		return nil, errors.E("decrypting record", err)
	}
	return fields, nil
}
