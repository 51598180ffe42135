// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package encryption

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/grailbio/e3db/errors"
)

const (
	// KeySize is the size of symmetric keys and of Curve25519 public and
	// private keys.
	KeySize = 32
	// NonceSize is the size of the nonce generated for every encryption.
	NonceSize = 24
)

// Key is a symmetric key or one half of a Curve25519 key pair.
// Keys marshal to and from unpadded base64url text.
type Key []byte

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	dst := make([]byte, base64.RawURLEncoding.EncodedLen(len(k)))
	base64.RawURLEncoding.Encode(dst, k)
	return dst, nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Both padded and
// unpadded base64url are accepted.
func (k *Key) UnmarshalText(text []byte) error {
	b, err := DecodeBase64URL(string(text))
	if err != nil {
		return errors.E(errors.Format, "decoding key", err)
	}
	*k = b
	return nil
}

// Check returns an Invalid error naming what if k is not KeySize bytes.
func (k Key) Check(what string) error {
	if len(k) != KeySize {
		return errors.E(errors.Invalid, errors.Fatal, what, "must be 32 bytes")
	}
	return nil
}

// Equal tells whether k and other hold the same bytes.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// Zero overwrites the key material with zeros.
func (k Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Array returns a copy of k as a fixed size array, as required by the
// NaCl APIs. Callers must Check the key first.
func (k Key) Array() *[KeySize]byte {
	var a [KeySize]byte
	copy(a[:], k)
	return &a
}

var (
	strictURLEncoding    = base64.URLEncoding.Strict()
	strictRawURLEncoding = base64.RawURLEncoding.Strict()
)

// DecodeBase64URL decodes s as base64url, with or without padding.
// Decoding is strict: the unused bits of the final character must be
// zero and line breaks are rejected, so every encoding of a value is
// unique.
func DecodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, errors.E(errors.Format, "line break in base64url text")
	}
	if strings.HasSuffix(s, "=") {
		return strictURLEncoding.DecodeString(s)
	}
	return strictRawURLEncoding.DecodeString(s)
}

// Envelope is the output of an authenticated encryption: the nonce used
// and the ciphertext, including its authentication tag.
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
}

// KeyPair is a client's long-term Curve25519 identity.
type KeyPair struct {
	Public  Key
	Private Key
}

// Provider is the capability interface over a primitive cryptography
// library. Implementations must be safe for concurrent use.
type Provider interface {
	// SecretboxEncrypt encrypts and authenticates message under key
	// with a fresh random nonce. It fails with errors.Invalid if key is
	// not KeySize bytes.
	SecretboxEncrypt(message []byte, key Key) (Envelope, error)

	// SecretboxDecrypt opens an envelope produced by SecretboxEncrypt.
	// It fails with errors.AuthenticationFailed if the authentication
	// tag does not verify.
	SecretboxDecrypt(env Envelope, key Key) ([]byte, error)

	// BoxEncrypt encrypts and authenticates message from the owner of
	// senderPrivate to the owner of recipientPublic.
	BoxEncrypt(message []byte, recipientPublic, senderPrivate Key) (Envelope, error)

	// BoxDecrypt opens an envelope produced by BoxEncrypt. It fails with
	// errors.AuthenticationFailed on tamper or key mismatch.
	BoxDecrypt(env Envelope, senderPublic, recipientPrivate Key) ([]byte, error)

	// PublicKey derives the public key of a private key.
	PublicKey(private Key) (Key, error)

	// GeneratePrivateKey returns a new random private key.
	GeneratePrivateKey() (Key, error)

	// GenerateKey returns a new random symmetric key.
	GenerateKey() (Key, error)
}

// NewKeyPair generates a new key pair with the provided backend.
func NewKeyPair(p Provider) (KeyPair, error) {
	private, err := p.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	public, err := p.PublicKey(private)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: public, Private: private}, nil
}
