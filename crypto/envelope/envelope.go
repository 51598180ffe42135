// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package envelope implements the textual encoding of encrypted values
// stored by the service. A single envelope is written as
//
//	base64url(nonce) "." base64url(ciphertext)
//
// and an encrypted field is two envelopes joined by ".": the first
// wraps a fresh data key under the record type's access key, the
// second wraps the field's UTF-8 value under that data key.
package envelope

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/errors"
)

// Separator joins the segments of an envelope, and the two envelopes
// of an encrypted field.
const Separator = "."

// Encode renders env in its textual form. Segments are emitted without
// base64 padding.
func Encode(env encryption.Envelope) string {
	return base64.RawURLEncoding.EncodeToString(env.Nonce) + Separator +
		base64.RawURLEncoding.EncodeToString(env.Ciphertext)
}

// Decode parses an envelope rendered by Encode. Padded segments are
// accepted.
func Decode(s string) (encryption.Envelope, error) {
	if n := strings.Count(s, Separator); n != 1 {
		return encryption.Envelope{}, errors.E(errors.Format, errors.Fatal,
			fmt.Sprintf("envelope has %d separators, want 1", n))
	}
	i := strings.Index(s, Separator)
	nonce, err := encryption.DecodeBase64URL(s[:i])
	if err != nil {
		return encryption.Envelope{}, errors.E(errors.Format, errors.Fatal, "decoding envelope nonce", err)
	}
	ciphertext, err := encryption.DecodeBase64URL(s[i+1:])
	if err != nil {
		return encryption.Envelope{}, errors.E(errors.Format, errors.Fatal, "decoding envelope ciphertext", err)
	}
	return encryption.Envelope{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// EncodeField encrypts plaintext under a fresh data key, wraps the data
// key under ak, and returns both envelopes joined by Separator.
func EncodeField(ak encryption.Key, plaintext string, p encryption.Provider) (string, error) {
	if err := ak.Check("access key"); err != nil {
		return "", err
	}
	dk, err := p.GenerateKey()
	if err != nil {
		return "", err
	}
	defer dk.Zero()
	wrapped, err := p.SecretboxEncrypt(dk, ak)
	if err != nil {
		return "", err
	}
	sealed, err := p.SecretboxEncrypt([]byte(plaintext), dk)
	if err != nil {
		return "", err
	}
	return Encode(wrapped) + Separator + Encode(sealed), nil
}

// DecodeField reverses EncodeField. The field string is split at its
// second separator; the data key is unwrapped with ak and then used to
// open the value.
func DecodeField(ak encryption.Key, field string, p encryption.Provider) (string, error) {
	if err := ak.Check("access key"); err != nil {
		return "", err
	}
	first, second, err := split(field)
	if err != nil {
		return "", err
	}
	wrapped, err := Decode(first)
	if err != nil {
		return "", err
	}
	sealed, err := Decode(second)
	if err != nil {
		return "", err
	}
	dk, err := p.SecretboxDecrypt(wrapped, ak)
	if err != nil {
		return "", errors.E("unwrapping data key", err)
	}
	defer encryption.Key(dk).Zero()
	plaintext, err := p.SecretboxDecrypt(sealed, dk)
	if err != nil {
		return "", errors.E("opening field value", err)
	}
	if !utf8.Valid(plaintext) {
		return "", errors.E(errors.Decode, errors.Fatal, "field value is not valid UTF-8")
	}
	return string(plaintext), nil
}

func split(field string) (first, second string, err error) {
	if n := strings.Count(field, Separator); n != 3 {
		return "", "", errors.E(errors.Format, errors.Fatal,
			fmt.Sprintf("field has %d separators, want 3", n))
	}
	i := strings.Index(field, Separator)
	j := i + 1 + strings.Index(field[i+1:], Separator)
	return field[:j], field[j+1:], nil
}

// EncodeFields encodes every value of fields with EncodeField. The
// first failure aborts the whole map; the returned error names the
// offending field.
func EncodeFields(ak encryption.Key, fields map[string]string, p encryption.Provider) (map[string]string, error) {
	return apply(fields, func(v string) (string, error) { return EncodeField(ak, v, p) })
}

// DecodeFields decodes every value of fields with DecodeField. The
// first failure aborts the whole map; the returned error names the
// offending field.
func DecodeFields(ak encryption.Key, fields map[string]string, p encryption.Provider) (map[string]string, error) {
	return apply(fields, func(v string) (string, error) { return DecodeField(ak, v, p) })
}

func apply(fields map[string]string, fn func(string) (string, error)) (map[string]string, error) {
	if fields == nil {
		return nil, errors.E(errors.Invalid, "nil field map")
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(fields))
	for _, k := range keys {
		v, err := fn(fields[k])
		if err != nil {
			return nil, errors.E(fmt.Sprintf("field %q", k), err)
		}
		out[k] = v
	}
	return out, nil
}
