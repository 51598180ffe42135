// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package sharing_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/accesskey"
	"github.com/grailbio/e3db/crypto/encryption/nacl"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/internal/fakeservice"
	"github.com/grailbio/e3db/sharing"
	"github.com/grailbio/e3db/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type participant struct {
	*fakeservice.Identity
	keys       *accesskey.Manager
	controller *sharing.Controller
}

func newParticipant(t *testing.T, svc *fakeservice.Service, name string) participant {
	t.Helper()
	id, err := svc.NewIdentity(name, transport.Options{})
	require.NoError(t, err)
	keys := accesskey.NewManager(id.ClientID, id.Keys, nacl.New(), id.Transport)
	return participant{id, keys, sharing.New(keys, id.Transport, id.Transport)}
}

func TestShareRevoke(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParticipant(t, svc, "alice")
	bob := newParticipant(t, svc, "bob")

	require.NoError(t, alice.controller.Share(ctx, "contact", bob.ClientID))
	assert.True(t, svc.Allowed(alice.ClientID, alice.ClientID, bob.ClientID))

	own, ok, err := alice.keys.Fetch(ctx, alice.ClientID, alice.ClientID, alice.ClientID, "contact")
	require.NoError(t, err)
	require.True(t, ok)
	shared, ok, err := bob.keys.Fetch(ctx, alice.ClientID, alice.ClientID, bob.ClientID, "contact")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, own.Equal(shared))

	// Sharing again is idempotent and does not look the reader up.
	lookups := svc.Count(http.MethodGet, "/v1/storage/clients/")
	puts := svc.Count(http.MethodPut, "/v1/storage/access_keys/")
	require.NoError(t, alice.controller.Share(ctx, "contact", bob.ClientID))
	assert.Equal(t, lookups, svc.Count(http.MethodGet, "/v1/storage/clients/"))
	assert.Equal(t, puts, svc.Count(http.MethodPut, "/v1/storage/access_keys/"))
	shared, ok, err = bob.keys.Fetch(ctx, alice.ClientID, alice.ClientID, bob.ClientID, "contact")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, own.Equal(shared))

	require.NoError(t, alice.controller.Revoke(ctx, "contact", bob.ClientID))
	assert.False(t, svc.Allowed(alice.ClientID, alice.ClientID, bob.ClientID))
	_, ok, err = bob.keys.Fetch(ctx, alice.ClientID, alice.ClientID, bob.ClientID, "contact")
	require.NoError(t, err)
	assert.False(t, ok)

	// Revoking again is harmless.
	require.NoError(t, alice.controller.Revoke(ctx, "contact", bob.ClientID))
}

func TestShareEmail(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParticipant(t, svc, "alice")
	bob := newParticipant(t, svc, "bob")

	require.NoError(t, alice.controller.ShareEmail(ctx, "note", bob.Email))
	assert.True(t, svc.Allowed(alice.ClientID, alice.ClientID, bob.ClientID))
	require.NoError(t, alice.controller.RevokeEmail(ctx, "note", bob.Email))
	assert.False(t, svc.Allowed(alice.ClientID, alice.ClientID, bob.ClientID))

	err := alice.controller.ShareEmail(ctx, "note", "nobody@example.com")
	assert.True(t, errors.Is(errors.NotExist, err), "got %v", err)
}

func TestShareUnknownReader(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	alice := newParticipant(t, svc, "alice")
	err := alice.controller.Share(context.Background(), "contact", uuid.New())
	assert.True(t, errors.Is(errors.NotExist, err), "got %v", err)
	assert.Contains(t, err.Error(), "client not found")
}

func TestShareBlankType(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	alice := newParticipant(t, svc, "alice")
	bob := newParticipant(t, svc, "bob")
	err := alice.controller.Share(context.Background(), " ", bob.ClientID)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	err = alice.controller.Revoke(context.Background(), "", bob.ClientID)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
}

func TestSharePolicyFailure(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParticipant(t, svc, "alice")
	bob := newParticipant(t, svc, "bob")

	svc.Fail(http.MethodPut, "/v1/storage/policy/", http.StatusInternalServerError, 1)
	err := alice.controller.Share(ctx, "contact", bob.ClientID)
	assert.True(t, errors.Is(errors.Remote, err), "got %v", err)
	assert.False(t, svc.Allowed(alice.ClientID, alice.ClientID, bob.ClientID))
	// The key step succeeded; retrying completes the share.
	_, stored := svc.AccessKey(transport.Tuple{WriterID: alice.ClientID, UserID: alice.ClientID, ReaderID: bob.ClientID, Type: "contact"})
	assert.True(t, stored)
	require.NoError(t, alice.controller.Share(ctx, "contact", bob.ClientID))
	assert.True(t, svc.Allowed(alice.ClientID, alice.ClientID, bob.ClientID))
}

func TestRevokeForbidden(t *testing.T) {
	svc := fakeservice.New()
	defer svc.Close()
	ctx := context.Background()
	alice := newParticipant(t, svc, "alice")
	bob := newParticipant(t, svc, "bob")
	svc.Fail(http.MethodDelete, "/v1/storage/access_keys/", http.StatusForbidden, 1)
	err := alice.controller.Revoke(ctx, "contact", bob.ClientID)
	assert.True(t, errors.Is(errors.NotAllowed, err), "got %v", err)
}
