// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package record

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/accesskey"
	"github.com/grailbio/e3db/crypto/encryption"
	"github.com/grailbio/e3db/errors"
	"github.com/grailbio/e3db/transport"
)

// DefaultQueryCount is the page size of a query that does not set one.
const DefaultQueryCount = 50

// Meta is the metadata of a record. It is stored unencrypted.
type Meta struct {
	RecordID     uuid.UUID
	WriterID     uuid.UUID
	UserID       uuid.UUID
	Version      string
	Created      time.Time
	LastModified time.Time
	Type         string
	Plain        map[string]string
}

// Record is a record with decrypted field values.
type Record struct {
	Meta Meta
	Data map[string]string
}

// QueryParams selects records readable by the caller.
type QueryParams struct {
	// After is the index returned as LastIndex by a previous query.
	After int64
	// Count bounds the number of records returned; DefaultQueryCount if
	// zero.
	Count int
	// Types restricts results to the given record types.
	Types []string
	// Writers restricts results to records by the given writers.
	Writers []uuid.UUID
	// Records restricts results to the given record ids.
	Records []uuid.UUID
}

// QueryResult is one page of a query.
type QueryResult struct {
	Records []Record
	// LastIndex is passed as QueryParams.After to fetch the next page.
	LastIndex int64
}

// Service is the record API of the storage service. *transport.Client
// implements Service.
type Service interface {
	WriteRecord(ctx context.Context, rec transport.Record) (*transport.Record, error)
	UpdateRecord(ctx context.Context, rec transport.Record) (*transport.Record, error)
	DeleteRecord(ctx context.Context, id uuid.UUID, version string) error
	ReadRecord(ctx context.Context, id uuid.UUID) (*transport.Record, error)
	Search(ctx context.Context, req transport.SearchRequest) (*transport.SearchResponse, error)
}

// Store writes, reads and queries the caller's records.
type Store struct {
	codec *Codec
	keys  *accesskey.Manager
	svc   Service
}

// NewStore returns a store that encrypts with keys and persists to svc.
func NewStore(keys *accesskey.Manager, svc Service) *Store {
	return &Store{codec: NewCodec(keys), keys: keys, svc: svc}
}

// Codec returns the store's codec.
func (s *Store) Codec() *Codec { return s.codec }

// Write encrypts fields and stores them as a new record of type typ.
// Plain metadata is stored unencrypted.
func (s *Store) Write(ctx context.Context, typ string, fields, plain map[string]string) (*Record, error) {
	typ, err := accesskey.CheckType(typ)
	if err != nil {
		return nil, err
	}
	ak, enc, err := s.codec.EncryptRecord(ctx, typ, fields)
	if err != nil {
		return nil, err
	}
	ak.Zero()
	self := s.keys.ClientID()
	out, err := s.svc.WriteRecord(ctx, transport.Record{
		Meta: transport.Meta{WriterID: self, UserID: self, Type: typ, Plain: plain},
		Data: enc,
	})
	if err != nil {
		return nil, errors.E("writing record", err)
	}
	return &Record{Meta: metaOf(out.Meta), Data: copyFields(fields)}, nil
}

// Update replaces the fields and plain metadata of record id, provided
// that version is its current version. It fails with VersionConflict
// otherwise.
func (s *Store) Update(ctx context.Context, id uuid.UUID, version, typ string, fields, plain map[string]string) (*Record, error) {
	typ, err := accesskey.CheckType(typ)
	if err != nil {
		return nil, err
	}
	if version == "" {
		return nil, errors.E(errors.Invalid, "record version must not be empty")
	}
	ak, enc, err := s.codec.EncryptRecord(ctx, typ, fields)
	if err != nil {
		return nil, err
	}
	ak.Zero()
	self := s.keys.ClientID()
	out, err := s.svc.UpdateRecord(ctx, transport.Record{
		Meta: transport.Meta{RecordID: id, WriterID: self, UserID: self, Type: typ, Plain: plain, Version: version},
		Data: enc,
	})
	if err != nil {
		return nil, errors.E("updating record", err)
	}
	return &Record{Meta: metaOf(out.Meta), Data: copyFields(fields)}, nil
}

// Delete removes record id, provided that version is its current
// version.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, version string) error {
	if version == "" {
		return errors.E(errors.Invalid, "record version must not be empty")
	}
	if err := s.svc.DeleteRecord(ctx, id, version); err != nil {
		return errors.E("deleting record", err)
	}
	return nil
}

// Read fetches and decrypts record id.
func (s *Store) Read(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := s.svc.ReadRecord(ctx, id)
	if err != nil {
		return nil, errors.E("reading record", err)
	}
	data := rec.Data
	if data == nil {
		data = map[string]string{}
	}
	fields, err := s.codec.DecryptRecord(ctx, rec.Meta.WriterID, rec.Meta.UserID, rec.Meta.Type, data)
	if err != nil {
		return nil, err
	}
	return &Record{Meta: metaOf(rec.Meta), Data: fields}, nil
}

// Query returns a page of the records readable by the caller,
// decrypted. Each access key is unwrapped once per page.
func (s *Store) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	count := params.Count
	if count <= 0 {
		count = DefaultQueryCount
	}
	resp, err := s.svc.Search(ctx, transport.SearchRequest{
		AfterIndex:        params.After,
		Count:             count,
		IncludeData:       true,
		IncludeAllWriters: true,
		ContentTypes:      params.Types,
		WriterIDs:         params.Writers,
		RecordIDs:         params.Records,
	})
	if err != nil {
		return nil, errors.E("querying records", err)
	}
	type keyID struct {
		writer, user uuid.UUID
		typ          string
	}
	keys := make(map[keyID]encryption.Key)
	defer func() {
		for _, ak := range keys {
			ak.Zero()
		}
	}()
	result := &QueryResult{Records: make([]Record, 0, len(resp.Results)), LastIndex: resp.LastIndex}
	for _, r := range resp.Results {
		id := keyID{r.Meta.WriterID, r.Meta.UserID, r.Meta.Type}
		ak, ok := keys[id]
		if !ok {
			if r.AccessKey == nil {
				return nil, errors.E(errors.NotShared, "no access key for record "+r.Meta.RecordID.String())
			}
			ak, err = s.keys.Unwrap(r.AccessKey)
			if err != nil {
				return nil, errors.E("unwrapping access key of record "+r.Meta.RecordID.String(), err)
			}
			keys[id] = ak
		}
		data := r.Data
		if data == nil {
			data = map[string]string{}
		}
		fields, err := s.codec.DecryptFields(ak, data)
		if err != nil {
			return nil, errors.E("record "+r.Meta.RecordID.String(), err)
		}
		result.Records = append(result.Records, Record{Meta: metaOf(r.Meta), Data: fields})
	}
	return result, nil
}

func metaOf(m transport.Meta) Meta {
	return Meta{
		RecordID:     m.RecordID,
		WriterID:     m.WriterID,
		UserID:       m.UserID,
		Version:      m.Version,
		Created:      m.Created,
		LastModified: m.LastModified,
		Type:         m.Type,
		Plain:        m.Plain,
	}
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
