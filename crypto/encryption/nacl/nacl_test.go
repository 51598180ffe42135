// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package nacl_test

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/encryption/nacl"
	"github.com/grailbio/e3db/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) encryption.Key {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestSecretboxRoundTrip(t *testing.T) {
	p := nacl.New()
	fz := fuzz.New().NilChance(0)
	for i := 0; i < 200; i++ {
		var message []byte
		fz.Fuzz(&message)
		key, err := p.GenerateKey()
		require.NoError(t, err)
		env, err := p.SecretboxEncrypt(message, key)
		require.NoError(t, err)
		assert.Len(t, env.Nonce, encryption.NonceSize)
		got, err := p.SecretboxDecrypt(env, key)
		require.NoError(t, err)
		if !bytes.Equal(got, message) {
			t.Fatalf("round trip %d: got %x, want %x", i, got, message)
		}
	}
}

func TestSecretboxWrongKey(t *testing.T) {
	p := nacl.New()
	key, err := p.GenerateKey()
	require.NoError(t, err)
	other, err := p.GenerateKey()
	require.NoError(t, err)
	env, err := p.SecretboxEncrypt([]byte("Alice"), key)
	require.NoError(t, err)
	_, err = p.SecretboxDecrypt(env, other)
	assert.True(t, errors.Is(errors.AuthenticationFailed, err), "got %v", err)
}

func TestSecretboxTamper(t *testing.T) {
	p := nacl.New()
	key, err := p.GenerateKey()
	require.NoError(t, err)
	env, err := p.SecretboxEncrypt([]byte("attack at dawn"), key)
	require.NoError(t, err)
	for i := range env.Ciphertext {
		for bit := 0; bit < 8; bit++ {
			tampered := encryption.Envelope{Nonce: env.Nonce, Ciphertext: append([]byte(nil), env.Ciphertext...)}
			tampered.Ciphertext[i] ^= 1 << uint(bit)
			_, err := p.SecretboxDecrypt(tampered, key)
			if !errors.Is(errors.AuthenticationFailed, err) {
				t.Fatalf("byte %d bit %d: got %v", i, bit, err)
			}
		}
	}
	for i := range env.Nonce {
		tampered := encryption.Envelope{Nonce: append([]byte(nil), env.Nonce...), Ciphertext: env.Ciphertext}
		tampered.Nonce[i] ^= 0x80
		_, err := p.SecretboxDecrypt(tampered, key)
		assert.True(t, errors.Is(errors.AuthenticationFailed, err), "nonce byte %d: got %v", i, err)
	}
}

func TestInvalidKeys(t *testing.T) {
	p := nacl.New()
	for _, key := range []encryption.Key{nil, {}, make(encryption.Key, 16), make(encryption.Key, 33)} {
		_, err := p.SecretboxEncrypt([]byte("x"), key)
		assert.True(t, errors.Is(errors.Invalid, err), "key len %d: got %v", len(key), err)
		_, err = p.PublicKey(key)
		assert.True(t, errors.Is(errors.Invalid, err), "key len %d: got %v", len(key), err)
	}
	key, err := p.GenerateKey()
	require.NoError(t, err)
	_, err = p.SecretboxDecrypt(encryption.Envelope{Nonce: []byte{1, 2, 3}}, key)
	assert.True(t, errors.Is(errors.Format, err), "got %v", err)
}

func TestFreshNonces(t *testing.T) {
	p := nacl.New()
	key, err := p.GenerateKey()
	require.NoError(t, err)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env, err := p.SecretboxEncrypt([]byte("same message"), key)
		require.NoError(t, err)
		if seen[string(env.Nonce)] {
			t.Fatalf("nonce %x reused", env.Nonce)
		}
		seen[string(env.Nonce)] = true
	}
}

func TestBoxMutual(t *testing.T) {
	p := nacl.New()
	fz := fuzz.New().NilChance(0)
	for i := 0; i < 50; i++ {
		alice, err := encryption.NewKeyPair(p)
		require.NoError(t, err)
		bob, err := encryption.NewKeyPair(p)
		require.NoError(t, err)
		var message []byte
		fz.Fuzz(&message)

		env, err := p.BoxEncrypt(message, bob.Public, alice.Private)
		require.NoError(t, err)
		got, err := p.BoxDecrypt(env, alice.Public, bob.Private)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%x", message), fmt.Sprintf("%x", got))

		mallory, err := encryption.NewKeyPair(p)
		require.NoError(t, err)
		_, err = p.BoxDecrypt(env, mallory.Public, bob.Private)
		assert.True(t, errors.Is(errors.AuthenticationFailed, err), "got %v", err)
	}
}

func TestBoxSelf(t *testing.T) {
	p := nacl.New()
	self, err := encryption.NewKeyPair(p)
	require.NoError(t, err)
	ak, err := p.GenerateKey()
	require.NoError(t, err)
	env, err := p.BoxEncrypt(ak, self.Public, self.Private)
	require.NoError(t, err)
	got, err := p.BoxDecrypt(env, self.Public, self.Private)
	require.NoError(t, err)
	assert.True(t, ak.Equal(got))
}

// Test vectors from RFC 7748, section 6.1.
func TestPublicKey(t *testing.T) {
	p := nacl.New()
	for _, c := range []struct{ private, public string }{
		{
			"77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a",
			"8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a",
		},
		{
			"5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb",
			"de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f",
		},
	} {
		got, err := p.PublicKey(mustHex(t, c.private))
		require.NoError(t, err)
		if want := mustHex(t, c.public); !got.Equal(want) {
			t.Errorf("got %x, want %x", got, want)
		}
	}
}

func TestRegistered(t *testing.T) {
	p, err := encryption.Lookup(nacl.Name)
	require.NoError(t, err)
	assert.Equal(t, nacl.New(), p)
	assert.Contains(t, encryption.Registered(), nacl.Name)
	_, err = encryption.Lookup("android")
	assert.True(t, errors.Is(errors.NotExist, err))
	assert.True(t, errors.Is(errors.Invalid, encryption.Register(nacl.Name, nacl.New())))
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type failReader struct{}

func (failReader) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("rand failures")
}

func TestRandSource(t *testing.T) {
	p := nacl.New()
	old := encryption.SetRandSource(zeroReader{})
	key, err := p.GenerateKey()
	require.NoError(t, err)
	assert.True(t, key.Equal(make(encryption.Key, encryption.KeySize)))

	encryption.SetRandSource(failReader{})
	_, err = p.SecretboxEncrypt([]byte("x"), key)
	assert.Error(t, err)
	encryption.SetRandSource(old)
}
