// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package encryption defines the capability surface the record store
// client needs from a primitive cryptography library: authenticated
// symmetric encryption (secretbox), authenticated public-key encryption
// (box), and key generation.
//
// Higher layers interact only with the Provider interface and never with
// a concrete library, so the backend can be swapped without touching the
// protocol logic. A backend is chosen by the embedding application when
// it constructs a client: either directly (nacl.New()) or by name through
// Lookup, with the name taken from configuration. Backends register
// themselves with Register when their package is imported.
//
// Every encryption draws a fresh nonce from a cryptographically secure
// source, so a nonce/key pair is never used for two plaintexts. The
// output of an encryption is an Envelope: the nonce together with the
// ciphertext and its authentication tag.
package encryption
