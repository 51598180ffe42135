// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package encryption_test

import (
	"encoding/json"
	"testing"

	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyText(t *testing.T) {
	key := encryption.Key{0xfb, 0xff, 0x01}
	out, err := json.Marshal(struct {
		Key encryption.Key `json:"key"`
	}{key})
	require.NoError(t, err)
	assert.Equal(t, `{"key":"-_8B"}`, string(out))

	for _, text := range []string{"-_8B", "-_8B"} {
		var got encryption.Key
		require.NoError(t, got.UnmarshalText([]byte(text)))
		assert.True(t, key.Equal(got))
	}
	var padded encryption.Key
	require.NoError(t, padded.UnmarshalText([]byte("AQ==")))
	assert.Equal(t, encryption.Key{1}, padded)

	var bad encryption.Key
	assert.True(t, errors.Is(errors.Format, bad.UnmarshalText([]byte("+/+/"))))
}

func TestKeyCheckAndZero(t *testing.T) {
	key := make(encryption.Key, encryption.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	assert.NoError(t, key.Check("access key"))
	assert.True(t, errors.Is(errors.Invalid, key[:31].Check("access key")))
	key.Zero()
	assert.True(t, key.Equal(make(encryption.Key, encryption.KeySize)))
}
