// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tuple identifies one access key row: the key that lets ReaderID read
// records of Type written by WriterID about UserID.
type Tuple struct {
	WriterID, UserID, ReaderID uuid.UUID
	Type                       string
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", t.WriterID, t.UserID, t.ReaderID, t.Type)
}

// PublicKey is the wire form of a client's public key.
type PublicKey struct {
	Curve25519 string `json:"curve25519"`
}

// EncryptedAccessKey is an access key wrapped for its reader, as stored
// by the service. The authorizer is the client whose private key
// wrapped it.
type EncryptedAccessKey struct {
	EAK                 string     `json:"eak"`
	AuthorizerID        uuid.UUID  `json:"authorizer_id"`
	AuthorizerPublicKey *PublicKey `json:"authorizer_public_key,omitempty"`
}

// ClientInfo is the public directory entry of a client.
type ClientInfo struct {
	ClientID  uuid.UUID `json:"client_id"`
	PublicKey PublicKey `json:"public_key"`
	Validated bool      `json:"validated"`
}

// Meta is the unencrypted metadata of a record.
type Meta struct {
	RecordID     uuid.UUID         `json:"record_id"`
	WriterID     uuid.UUID         `json:"writer_id"`
	UserID       uuid.UUID         `json:"user_id"`
	Type         string            `json:"type"`
	Plain        map[string]string `json:"plain"`
	Created      time.Time         `json:"created"`
	LastModified time.Time         `json:"last_modified"`
	Version      string            `json:"version,omitempty"`
}

// Record is a record with encrypted field values.
type Record struct {
	Meta Meta              `json:"meta"`
	Data map[string]string `json:"data"`
}

// SearchRequest selects records readable by the caller.
type SearchRequest struct {
	AfterIndex        int64       `json:"after_index"`
	Count             int         `json:"count"`
	IncludeData       bool        `json:"include_data"`
	IncludeAllWriters bool        `json:"include_all_writers"`
	ContentTypes      []string    `json:"content_types,omitempty"`
	WriterIDs         []uuid.UUID `json:"writer_ids,omitempty"`
	RecordIDs         []uuid.UUID `json:"record_ids,omitempty"`
}

// SearchResult is one record returned by a search, together with the
// caller's wrapped access key for its type.
type SearchResult struct {
	Meta      Meta                `json:"meta"`
	Data      map[string]string   `json:"record_data"`
	AccessKey *EncryptedAccessKey `json:"access_key"`
}

// SearchResponse is a page of search results.
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	LastIndex int64          `json:"last_index"`
}

// RegisterRequest registers a new client with a registration token.
type RegisterRequest struct {
	Token  string         `json:"token"`
	Client RegisterClient `json:"client"`
}

// RegisterClient describes the client being registered.
type RegisterClient struct {
	Name      string    `json:"name"`
	PublicKey PublicKey `json:"public_key"`
}

// RegisterResponse carries the credentials of a newly registered client.
type RegisterResponse struct {
	ClientID  uuid.UUID `json:"client_id"`
	APIKeyID  string    `json:"api_key_id"`
	APISecret string    `json:"api_secret"`
	Name      string    `json:"name"`
	PublicKey PublicKey `json:"public_key"`
}

// Policy is a sharing policy document.
type Policy struct {
	Allow []Permission `json:"allow,omitempty"`
	Deny  []Permission `json:"deny,omitempty"`
}

// Permission names the operations a policy applies to.
type Permission struct {
	Read *struct{} `json:"read,omitempty"`
}

var (
	// AllowRead grants read access.
	AllowRead = Policy{Allow: []Permission{{Read: &struct{}{}}}}
	// DenyRead withdraws read access.
	DenyRead = Policy{Deny: []Permission{{Read: &struct{}{}}}}
)

// normalizeType trims a record type for use in a path.
func normalizeType(typ string) string {
	return strings.TrimSpace(typ)
}
