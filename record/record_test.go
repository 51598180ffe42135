// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package record_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/accesskey"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/crypto/encryption/nacl"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/internal/fakeservice"
	"github.com/grailbio/e3db/record"
	"github.com/grailbio/e3db/sharing"
	"github.com/grailbio/e3db/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type party struct {
	*fakeservice.Identity
	store   *record.Store
	sharing *sharing.Controller
}

func newParty(t *testing.T, svc *fakeservice.Service, name string) party {
	t.Helper()
	id, err := svc.NewIdentity(name, transport.Options{})
	require.NoError(t, err)
	keys := accesskey.NewManager(id.ClientID, id.Keys, nacl.New(), id.Transport)
	return party{id, record.NewStore(keys, id.Transport), sharing.New(keys, id.Transport, id.Transport)}
}

func fixedKey(seed byte) encryption.Key {
	key := make(encryption.Key, encryption.KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestAliceLiteral(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	alice := newParty(t, svc, "alice")
	codec := alice.store.Codec()

	enc, err := codec.EncryptFields(fixedKey(1), map[string]string{"name": "Alice"})
	require.NoError(t, err)
	assert.NotEqual(t, "Alice", enc["name"])

	dec, err := codec.DecryptFields(fixedKey(1), enc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Alice"}, dec)

	_, err = codec.DecryptFields(fixedKey(2), enc)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.AuthenticationFailed, err), "got %v", err)
	assert.Contains(t, err.Error(), `field "name"`)
}

func TestCodec(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParty(t, svc, "alice")
	bob := newParty(t, svc, "bob")
	codec := alice.store.Codec()

	ak, enc, err := codec.EncryptRecord(ctx, "contact", map[string]string{"name": "Alice", "phone": "555-1234"})
	require.NoError(t, err)
	assert.Len(t, ak, encryption.KeySize)
	assert.Len(t, enc, 2)

	dec, err := codec.DecryptRecord(ctx, alice.ClientID, alice.ClientID, "contact", enc)
	require.NoError(t, err)
	assert.Equal(t, "Alice", dec["name"])
	assert.Equal(t, "555-1234", dec["phone"])

	_, err = bob.store.Codec().DecryptRecord(ctx, alice.ClientID, alice.ClientID, "contact", enc)
	assert.True(t, errors.Is(errors.NotShared, err), "got %v", err)

	_, _, err = codec.EncryptRecord(ctx, "contact", nil)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	_, _, err = codec.EncryptRecord(ctx, "  ", map[string]string{})
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	_, err = codec.DecryptRecord(ctx, alice.ClientID, alice.ClientID, "contact", nil)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}

func TestStoreLifecycle(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParty(t, svc, "alice")

	written, err := alice.store.Write(ctx, "contact", map[string]string{"name": "Alice"}, map[string]string{"tag": "friend"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", written.Data["name"])
	assert.Equal(t, alice.ClientID, written.Meta.WriterID)
	assert.Equal(t, "friend", written.Meta.Plain["tag"])

	stored, ok := svc.StoredRecord(written.Meta.RecordID)
	require.True(t, ok)
	assert.NotEqual(t, "Alice", stored.Data["name"], "service must only see ciphertext")

	read, err := alice.store.Read(ctx, written.Meta.RecordID)
	require.NoError(t, err)
	assert.Equal(t, written.Data, read.Data)
	assert.Equal(t, written.Meta.Version, read.Meta.Version)

	updated, err := alice.store.Update(ctx, written.Meta.RecordID, written.Meta.Version, "contact", map[string]string{"name": "Alicia"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, written.Meta.Version, updated.Meta.Version)
	read, err = alice.store.Read(ctx, written.Meta.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", read.Data["name"])

	_, err = alice.store.Update(ctx, written.Meta.RecordID, written.Meta.Version, "contact", map[string]string{"name": "stale"}, nil)
	assert.True(t, errors.Is(errors.VersionConflict, err), "got %v", err)
	err = alice.store.Delete(ctx, written.Meta.RecordID, written.Meta.Version)
	assert.True(t, errors.Is(errors.VersionConflict, err), "got %v", err)

	require.NoError(t, alice.store.Delete(ctx, written.Meta.RecordID, updated.Meta.Version))
	_, err = alice.store.Read(ctx, written.Meta.RecordID)
	assert.True(t, errors.Is(errors.NotExist, err), "got %v", err)
}

func TestSharedRead(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParty(t, svc, "alice")
	bob := newParty(t, svc, "bob")

	written, err := alice.store.Write(ctx, "contact", map[string]string{"name": "Alice"}, nil)
	require.NoError(t, err)
	_, err = bob.store.Read(ctx, written.Meta.RecordID)
	assert.True(t, errors.Is(errors.NotAllowed, err), "got %v", err)

	require.NoError(t, alice.sharing.Share(ctx, "contact", bob.ClientID))
	read, err := bob.store.Read(ctx, written.Meta.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", read.Data["name"])

	// The policy covers all of alice's records, but bob holds no key for notes.
	note, err := alice.store.Write(ctx, "note", map[string]string{"body": "hi"}, nil)
	require.NoError(t, err)
	_, err = bob.store.Read(ctx, note.Meta.RecordID)
	assert.True(t, errors.Is(errors.NotAllowed, err), "got %v", err)

	err = bob.store.Delete(ctx, written.Meta.RecordID, written.Meta.Version)
	assert.True(t, errors.Is(errors.NotAllowed, err), "got %v", err)

	require.NoError(t, alice.sharing.Revoke(ctx, "contact", bob.ClientID))
	_, err = bob.store.Read(ctx, written.Meta.RecordID)
	assert.True(t, errors.Is(errors.NotAllowed, err), "got %v", err)
}

func TestQuery(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParty(t, svc, "alice")
	bob := newParty(t, svc, "bob")

	for _, name := range []string{"a", "b", "c"} {
		_, err := alice.store.Write(ctx, "contact", map[string]string{"name": name}, nil)
		require.NoError(t, err)
	}
	_, err := alice.store.Write(ctx, "note", map[string]string{"body": "hi"}, nil)
	require.NoError(t, err)

	page, err := alice.store.Query(ctx, record.QueryParams{Count: 2, Types: []string{"contact"}})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "a", page.Records[0].Data["name"])
	assert.Equal(t, "b", page.Records[1].Data["name"])
	next, err := alice.store.Query(ctx, record.QueryParams{After: page.LastIndex, Types: []string{"contact"}})
	require.NoError(t, err)
	require.Len(t, next.Records, 1)
	assert.Equal(t, "c", next.Records[0].Data["name"])

	all, err := alice.store.Query(ctx, record.QueryParams{})
	require.NoError(t, err)
	assert.Len(t, all.Records, 4)

	// Bob sees alice's contacts once they are shared with him.
	empty, err := bob.store.Query(ctx, record.QueryParams{})
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
	require.NoError(t, alice.sharing.Share(ctx, "contact", bob.ClientID))
	shared, err := bob.store.Query(ctx, record.QueryParams{Writers: []uuid.UUID{alice.ClientID}})
	require.NoError(t, err)
	require.Len(t, shared.Records, 3)
	for _, r := range shared.Records {
		assert.Equal(t, "contact", r.Meta.Type)
		assert.NotEmpty(t, r.Data["name"])
	}
}

func TestQueryFailure(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	alice := newParty(t, svc, "alice")
	svc.Fail(http.MethodPost, "/v1/storage/search", http.StatusBadGateway, 1)
	_, err := alice.store.Query(context.Background(), record.QueryParams{})
	assert.True(t, errors.IsService(err), "got %v", err)
}

func TestInvalidArguments(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParty(t, svc, "alice")
	_, err := alice.store.Write(ctx, "", map[string]string{}, nil)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	_, err = alice.store.Write(ctx, "contact", nil, nil)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	_, err = alice.store.Update(ctx, uuid.New(), "", "contact", map[string]string{}, nil)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	err = alice.store.Delete(ctx, uuid.New(), "")
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}
