// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package nacl implements encryption.Provider with golang.org/x/crypto:
// XSalsa20-Poly1305 secretbox, Curve25519-XSalsa20-Poly1305 box, and
// X25519 public key derivation. It is wire compatible with libsodium's
// crypto_secretbox and crypto_box.
//
// Importing the package registers the provider under the name "nacl".
package nacl

import (
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// Name is the name under which the provider is registered.
const Name = "nacl"

func init() {
	if err := encryption.Register(Name, New()); err != nil {
		panic(err)
	}
}

// Provider is the x/crypto NaCl backend. The zero value is ready to use.
type Provider struct{}

var _ encryption.Provider = Provider{}

// New returns a NaCl provider.
func New() Provider {
	return Provider{}
}

func newNonce() (*[encryption.NonceSize]byte, error) {
	b, err := encryption.RandomBytes(encryption.NonceSize)
	if err != nil {
		return nil, err
	}
	var nonce [encryption.NonceSize]byte
	copy(nonce[:], b)
	return &nonce, nil
}

func checkNonce(env encryption.Envelope) (*[encryption.NonceSize]byte, error) {
	if len(env.Nonce) != encryption.NonceSize {
		return nil, errors.E(errors.Format, errors.Fatal, "nonce must be 24 bytes")
	}
	var nonce [encryption.NonceSize]byte
	copy(nonce[:], env.Nonce)
	return &nonce, nil
}

// SecretboxEncrypt implements encryption.Provider.
func (Provider) SecretboxEncrypt(message []byte, key encryption.Key) (encryption.Envelope, error) {
	if err := key.Check("secretbox key"); err != nil {
		return encryption.Envelope{}, err
	}
	nonce, err := newNonce()
	if err != nil {
		return encryption.Envelope{}, err
	}
	return encryption.Envelope{
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, message, nonce, key.Array()),
	}, nil
}

// SecretboxDecrypt implements encryption.Provider.
func (Provider) SecretboxDecrypt(env encryption.Envelope, key encryption.Key) ([]byte, error) {
	if err := key.Check("secretbox key"); err != nil {
		return nil, err
	}
	nonce, err := checkNonce(env)
	if err != nil {
		return nil, err
	}
	message, ok := secretbox.Open(nil, env.Ciphertext, nonce, key.Array())
	if !ok {
		return nil, errors.E(errors.AuthenticationFailed, errors.Fatal, "secretbox did not verify")
	}
	return message, nil
}

// BoxEncrypt implements encryption.Provider.
func (Provider) BoxEncrypt(message []byte, recipientPublic, senderPrivate encryption.Key) (encryption.Envelope, error) {
	if err := recipientPublic.Check("recipient public key"); err != nil {
		return encryption.Envelope{}, err
	}
	if err := senderPrivate.Check("sender private key"); err != nil {
		return encryption.Envelope{}, err
	}
	nonce, err := newNonce()
	if err != nil {
		return encryption.Envelope{}, err
	}
	return encryption.Envelope{
		Nonce:      nonce[:],
		Ciphertext: box.Seal(nil, message, nonce, recipientPublic.Array(), senderPrivate.Array()),
	}, nil
}

// BoxDecrypt implements encryption.Provider.
func (Provider) BoxDecrypt(env encryption.Envelope, senderPublic, recipientPrivate encryption.Key) ([]byte, error) {
	if err := senderPublic.Check("sender public key"); err != nil {
		return nil, err
	}
	if err := recipientPrivate.Check("recipient private key"); err != nil {
		return nil, err
	}
	nonce, err := checkNonce(env)
	if err != nil {
		return nil, err
	}
	message, ok := box.Open(nil, env.Ciphertext, nonce, senderPublic.Array(), recipientPrivate.Array())
	if !ok {
		return nil, errors.E(errors.AuthenticationFailed, errors.Fatal, "box did not verify")
	}
	return message, nil
}

// PublicKey implements encryption.Provider.
func (Provider) PublicKey(private encryption.Key) (encryption.Key, error) {
	if err := private.Check("private key"); err != nil {
		return nil, err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, errors.E(errors.Invalid, errors.Fatal, "deriving public key", err)
	}
	return public, nil
}

// GeneratePrivateKey implements encryption.Provider.
func (Provider) GeneratePrivateKey() (encryption.Key, error) {
	return encryption.RandomBytes(encryption.KeySize)
}

// GenerateKey implements encryption.Provider.
func (Provider) GenerateKey() (encryption.Key, error) {
	return encryption.RandomBytes(encryption.KeySize)
}
