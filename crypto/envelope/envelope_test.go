// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package envelope_test

import (
	"strings"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/encryption/nacl"
	"github.com/grailbio/e3db/crypto/envelope"
	"github.com/grailbio/e3db/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) encryption.Key {
	t.Helper()
	key, err := nacl.New().GenerateKey()
	require.NoError(t, err)
	return key
}

func TestEnvelopeRoundTrip(t *testing.T) {
	fz := fuzz.New().NilChance(0).NumElements(0, 64)
	for i := 0; i < 500; i++ {
		var env encryption.Envelope
		fz.Fuzz(&env.Nonce)
		fz.Fuzz(&env.Ciphertext)
		s := envelope.Encode(env)
		assert.Equal(t, 1, strings.Count(s, "."), s)
		assert.NotContains(t, s, "=")
		got, err := envelope.Decode(s)
		require.NoError(t, err, s)
		assert.Equal(t, string(env.Nonce), string(got.Nonce))
		assert.Equal(t, string(env.Ciphertext), string(got.Ciphertext))
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"AAAA",
		"AAAA.BBBB.CCCC",
		"AA+A.BBBB",
		"AAAA.BB/B",
		"A.BBBB",
	} {
		_, err := envelope.Decode(s)
		assert.True(t, errors.Is(errors.Format, err), "%q: got %v", s, err)
	}
	env, err := envelope.Decode("AQ==.AgM=")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, env.Nonce)
	assert.Equal(t, []byte{2, 3}, env.Ciphertext)
}

func TestFieldRoundTrip(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	fz := fuzz.New().NilChance(0)
	values := []string{"", "Alice", "héllo wörld", strings.Repeat("x", 4096)}
	for i := 0; i < 50; i++ {
		var s string
		fz.Fuzz(&s)
		values = append(values, strings.ToValidUTF8(s, "?"))
	}
	for _, v := range values {
		field, err := envelope.EncodeField(ak, v, p)
		require.NoError(t, err)
		assert.Equal(t, 3, strings.Count(field, "."))
		got, err := envelope.DecodeField(ak, field, p)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestFieldFreshDataKey(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	a, err := envelope.EncodeField(ak, "Alice", p)
	require.NoError(t, err)
	b, err := envelope.EncodeField(ak, "Alice", p)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFieldWrongKey(t *testing.T) {
	p := nacl.New()
	field, err := envelope.EncodeField(newKey(t), "Alice", p)
	require.NoError(t, err)
	_, err = envelope.DecodeField(newKey(t), field, p)
	assert.True(t, errors.Is(errors.AuthenticationFailed, err), "got %v", err)

	_, err = envelope.EncodeField(encryption.Key{1, 2, 3}, "Alice", p)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}

func TestFieldTamper(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	// Ciphertexts of 21, 22 and 23 bytes leave 0, 4 and 2 unused bits
	// in the final base64url character.
	for _, plaintext := range []string{"Alice", "Alice!", "Alice!!"} {
		field, err := envelope.EncodeField(ak, plaintext, p)
		require.NoError(t, err)
		for i := 0; i < len(field); i++ {
			for bit := uint(0); bit < 8; bit++ {
				b := []byte(field)
				b[i] ^= 1 << bit
				got, err := envelope.DecodeField(ak, string(b), p)
				if err == nil {
					t.Fatalf("%q: char %d bit %d: tampered field decoded to %q", plaintext, i, bit, got)
				}
				if !errors.Is(errors.AuthenticationFailed, err) && !errors.Is(errors.Format, err) {
					t.Errorf("%q: char %d bit %d: got %v", plaintext, i, bit, err)
				}
			}
		}
	}
}

func TestDecodeNonCanonical(t *testing.T) {
	// "AB" and "AC" differ only in the unused bits of their last
	// character; only the canonical form is accepted.
	b, err := encryption.DecodeBase64URL("AA")
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)
	for _, s := range []string{"AB", "AC", "AAB=", "AA\n", "A\rA"} {
		_, err := encryption.DecodeBase64URL(s)
		assert.Error(t, err, s)
	}
	_, err = envelope.Decode("AAAA.AB")
	assert.True(t, errors.Is(errors.Format, err), "got %v", err)
}

func TestFieldMalformed(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	field, err := envelope.EncodeField(ak, "Alice", p)
	require.NoError(t, err)
	parts := strings.Split(field, ".")
	for _, s := range []string{
		"",
		"AAAA.BBBB",
		"AAAA.BBBB.CCCC",
		field + ".AAAA",
		strings.Join([]string{parts[0], "!!!!", parts[2], parts[3]}, "."),
		strings.Join([]string{parts[0], parts[1], parts[2], "$"}, "."),
	} {
		_, err := envelope.DecodeField(ak, s, p)
		assert.True(t, errors.Is(errors.Format, err), "%q: got %v", s, err)
	}
}

func TestFieldInvalidUTF8(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	dk := newKey(t)
	wrapped, err := p.SecretboxEncrypt(dk, ak)
	require.NoError(t, err)
	sealed, err := p.SecretboxEncrypt([]byte{0xff, 0xfe, 'x'}, dk)
	require.NoError(t, err)
	field := envelope.Encode(wrapped) + "." + envelope.Encode(sealed)
	_, err = envelope.DecodeField(ak, field, p)
	assert.True(t, errors.Is(errors.Decode, err), "got %v", err)
}

func TestFields(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	plain := map[string]string{"name": "Alice", "ssn": "123-45-6789", "empty": ""}
	enc, err := envelope.EncodeFields(ak, plain, p)
	require.NoError(t, err)
	require.Len(t, enc, len(plain))
	for k, v := range enc {
		assert.NotEqual(t, plain[k], v)
	}
	dec, err := envelope.DecodeFields(ak, enc, p)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)

	empty, err := envelope.EncodeFields(ak, map[string]string{}, p)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = envelope.EncodeFields(ak, nil, p)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestFieldsAbort(t *testing.T) {
	p := nacl.New()
	ak := newKey(t)
	enc, err := envelope.EncodeFields(ak, map[string]string{"a": "1", "b": "2", "c": "3"}, p)
	require.NoError(t, err)
	enc["b"] = "garbage"
	dec, err := envelope.DecodeFields(ak, enc, p)
	assert.Nil(t, dec)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Format, err), "got %v", err)
	assert.Contains(t, err.Error(), `field "b"`)
}
