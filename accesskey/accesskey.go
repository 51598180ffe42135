// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package accesskey manages the per-type symmetric access keys that
// protect record fields. The service stores each access key wrapped
// (box-encrypted) for every client allowed to read the type; the
// plaintext key only ever exists on clients.
package accesskey

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/envelope"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/log"
	"github.com/grailbio/e3db/transport"
)

// Tuple identifies one access key row.
type Tuple = transport.Tuple

// Store persists wrapped access keys. *transport.Client implements
// Store.
type Store interface {
	// GetAccessKey returns the wrapped key for t, or nil if there is
	// none.
	GetAccessKey(ctx context.Context, t Tuple) (*transport.EncryptedAccessKey, error)
	// PutAccessKey stores the wrapped key eak for t.
	PutAccessKey(ctx context.Context, t Tuple, eak string) error
	// DeleteAccessKey removes the key for t.
	DeleteAccessKey(ctx context.Context, t Tuple) error
}

// Manager fetches, creates, grants and revokes access keys on behalf of
// one client. Keys are not cached; every operation consults the Store.
type Manager struct {
	id       uuid.UUID
	keys     encryption.KeyPair
	provider encryption.Provider
	store    Store
}

// NewManager returns a manager for the client with the given id and key
// pair.
func NewManager(id uuid.UUID, keys encryption.KeyPair, p encryption.Provider, store Store) *Manager {
	return &Manager{id: id, keys: keys, provider: p, store: store}
}

// ClientID returns the id of the client the manager acts for.
func (m *Manager) ClientID() uuid.UUID { return m.id }

// PublicKey returns the public key of the client the manager acts for.
func (m *Manager) PublicKey() encryption.Key { return m.keys.Public }

// Provider returns the manager's crypto provider.
func (m *Manager) Provider() encryption.Provider { return m.provider }

// CheckType trims typ and rejects blank types.
func CheckType(typ string) (string, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return "", errors.E(errors.Invalid, "record type must not be blank")
	}
	return typ, nil
}

// Fetch returns the access key that lets readerID read records of type
// typ written by writerID about userID. The boolean is false if no such
// key exists.
func (m *Manager) Fetch(ctx context.Context, writerID, userID, readerID uuid.UUID, typ string) (encryption.Key, bool, error) {
	typ, err := CheckType(typ)
	if err != nil {
		return nil, false, err
	}
	t := Tuple{WriterID: writerID, UserID: userID, ReaderID: readerID, Type: typ}
	eak, err := m.store.GetAccessKey(ctx, t)
	if err != nil {
		return nil, false, errors.E("fetching access key", err)
	}
	if eak == nil {
		return nil, false, nil
	}
	ak, err := m.Unwrap(eak)
	if err != nil {
		return nil, false, errors.E("unwrapping access key "+t.String(), err)
	}
	return ak, true, nil
}

// Exists tells whether a wrapped access key is stored for the tuple,
// without unwrapping it. A writer uses it to check for keys it wrapped
// for other readers, which only those readers can open.
func (m *Manager) Exists(ctx context.Context, writerID, userID, readerID uuid.UUID, typ string) (bool, error) {
	typ, err := CheckType(typ)
	if err != nil {
		return false, err
	}
	t := Tuple{WriterID: writerID, UserID: userID, ReaderID: readerID, Type: typ}
	eak, err := m.store.GetAccessKey(ctx, t)
	if err != nil {
		return false, errors.E("fetching access key", err)
	}
	return eak != nil, nil
}

// Unwrap decrypts a wrapped access key addressed to this client. The
// key is opened with the authorizer's public key if the service
// supplied it, and with the client's own public key otherwise.
func (m *Manager) Unwrap(eak *transport.EncryptedAccessKey) (encryption.Key, error) {
	authorizer := m.keys.Public
	if eak.AuthorizerPublicKey != nil && eak.AuthorizerPublicKey.Curve25519 != "" {
		b, err := encryption.DecodeBase64URL(eak.AuthorizerPublicKey.Curve25519)
		if err != nil {
			return nil, errors.E(errors.Format, errors.Fatal, "decoding authorizer public key", err)
		}
		authorizer = b
	}
	env, err := envelope.Decode(eak.EAK)
	if err != nil {
		return nil, err
	}
	ak, err := m.provider.BoxDecrypt(env, authorizer, m.keys.Private)
	if err != nil {
		return nil, err
	}
	if len(ak) != encryption.KeySize {
		return nil, errors.E(errors.Format, errors.Fatal, "unwrapped access key has wrong length")
	}
	return ak, nil
}

// Wrap encrypts ak for the holder of readerPublic.
func (m *Manager) Wrap(ak, readerPublic encryption.Key) (string, error) {
	if err := ak.Check("access key"); err != nil {
		return "", err
	}
	env, err := m.provider.BoxEncrypt(ak, readerPublic, m.keys.Private)
	if err != nil {
		return "", err
	}
	return envelope.Encode(env), nil
}

// EnsureOwn returns the client's own access key for typ, creating and
// storing a new one if none exists.
func (m *Manager) EnsureOwn(ctx context.Context, typ string) (encryption.Key, error) {
	typ, err := CheckType(typ)
	if err != nil {
		return nil, err
	}
	ak, ok, err := m.Fetch(ctx, m.id, m.id, m.id, typ)
	if err != nil || ok {
		return ak, err
	}
	ak, err = m.provider.GenerateKey()
	if err != nil {
		return nil, err
	}
	eak, err := m.Wrap(ak, m.keys.Public)
	if err != nil {
		return nil, err
	}
	t := Tuple{WriterID: m.id, UserID: m.id, ReaderID: m.id, Type: typ}
	if err := m.store.PutAccessKey(ctx, t, eak); err != nil {
		return nil, errors.E("storing new access key", err)
	}
	log.Debug.Printf("accesskey: created access key for type %q", typ)
	return ak, nil
}

// Grant wraps the client's own access key for typ with readerPublic and
// stores it for readerID.
func (m *Manager) Grant(ctx context.Context, writerID, readerID uuid.UUID, typ string, readerPublic encryption.Key) error {
	typ, err := CheckType(typ)
	if err != nil {
		return err
	}
	if err := readerPublic.Check("reader public key"); err != nil {
		return err
	}
	ak, err := m.EnsureOwn(ctx, typ)
	if err != nil {
		return err
	}
	defer ak.Zero()
	eak, err := m.Wrap(ak, readerPublic)
	if err != nil {
		return err
	}
	t := Tuple{WriterID: writerID, UserID: writerID, ReaderID: readerID, Type: typ}
	if err := m.store.PutAccessKey(ctx, t, eak); err != nil {
		return errors.E("granting access key", err)
	}
	return nil
}

// Revoke deletes readerID's access key for records of type typ written
// by writerID.
func (m *Manager) Revoke(ctx context.Context, writerID, readerID uuid.UUID, typ string) error {
	typ, err := CheckType(typ)
	if err != nil {
		return err
	}
	t := Tuple{WriterID: writerID, UserID: writerID, ReaderID: readerID, Type: typ}
	if err := m.store.DeleteAccessKey(ctx, t); err != nil {
		return errors.E("revoking access key", err)
	}
	return nil
}
