// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package fakeservice implements an in-memory storage service for
// tests. It serves the same HTTP endpoints as the real service and
// enforces the same ownership rules: only writers may change access
// keys, policies and records, and readers see a record only when its
// writer has allowed them to.
package fakeservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/transport"
)

// DefaultRegistrationToken is the registration token accepted by a new
// Service.
const DefaultRegistrationToken = "registration-token"

type client struct {
	info      transport.ClientInfo
	name      string
	email     string
	apiKeyID  string
	apiSecret string
}

type accessKey struct {
	eak          string
	authorizerID uuid.UUID
}

type policyKey struct {
	writerID, userID, readerID uuid.UUID
}

type record struct {
	index int64
	rec   transport.Record
}

// Service is a fake storage service listening on a local address.
type Service struct {
	// ExpiresIn is the token lifetime, in seconds, reported by the
	// token endpoint.
	ExpiresIn int
	// RegistrationToken is the token that authorizes registration.
	RegistrationToken string

	srv *httptest.Server

	mu         sync.Mutex
	clients    map[uuid.UUID]*client
	byKeyID    map[string]*client
	byEmail    map[string]*client
	tokens     map[string]uuid.UUID
	accessKeys map[transport.Tuple]accessKey
	policies   map[policyKey]bool
	records    map[uuid.UUID]*record
	index      int64
	counts     map[string]int
	faults     []fault
}

type fault struct {
	method, prefix string
	status, times  int
}

// New starts a new Service. Callers must Close it.
func New() *Service {
	s := &Service{
		ExpiresIn:         3600,
		RegistrationToken: DefaultRegistrationToken,
		clients:           make(map[uuid.UUID]*client),
		byKeyID:           make(map[string]*client),
		byEmail:           make(map[string]*client),
		tokens:            make(map[string]uuid.UUID),
		accessKeys:        make(map[transport.Tuple]accessKey),
		policies:          make(map[policyKey]bool),
		records:           make(map[uuid.UUID]*record),
		counts:            make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// URL returns the base URL of the service.
func (s *Service) URL() string { return s.srv.URL }

// HTTPClient returns an unauthenticated client for the service.
func (s *Service) HTTPClient() *http.Client { return s.srv.Client() }

// Close shuts the service down.
func (s *Service) Close() { s.srv.Close() }

// Credentials are the identity and API key of a registered client.
type Credentials struct {
	ClientID  uuid.UUID
	APIKeyID  string
	APISecret string
}

// AddClient registers a client directly, bypassing the registration
// endpoint. public is the base64url Curve25519 public key.
func (s *Service) AddClient(name, email, public string) Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addClientLocked(name, email, public)
}

func (s *Service) addClientLocked(name, email, public string) Credentials {
	c := &client{
		info: transport.ClientInfo{
			ClientID:  uuid.New(),
			PublicKey: transport.PublicKey{Curve25519: public},
			Validated: true,
		},
		name:      name,
		email:     email,
		apiKeyID:  uuid.New().String(),
		apiSecret: uuid.New().String(),
	}
	s.clients[c.info.ClientID] = c
	s.byKeyID[c.apiKeyID] = c
	if email != "" {
		s.byEmail[email] = c
	}
	return Credentials{ClientID: c.info.ClientID, APIKeyID: c.apiKeyID, APISecret: c.apiSecret}
}

// Count returns the number of requests served for the given method and
// path prefix, for example Count("POST", "/v1/auth/token").
func (s *Service) Count(method, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for k, v := range s.counts {
		if strings.HasPrefix(k, method+" "+prefix) {
			n += v
		}
	}
	return n
}

// Fail makes the next times requests matching method and path prefix
// fail with status.
func (s *Service) Fail(method, prefix string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{method, prefix, status, times})
}

// AccessKey returns the stored wrapped key for t, if any.
func (s *Service) AccessKey(t transport.Tuple) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak, ok := s.accessKeys[t]
	return ak.eak, ok
}

// Allowed tells whether the policy set by writerID allows readerID to
// read records about userID.
func (s *Service) Allowed(writerID, userID, readerID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policies[policyKey{writerID, userID, readerID}]
}

// StoredRecord returns the record as stored, with encrypted data.
func (s *Service) StoredRecord(id uuid.UUID) (transport.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return transport.Record{}, false
	}
	return r.rec, true
}

type httpError struct {
	status int
	msg    string
}

func errorf(status int, format string, args ...interface{}) *httpError {
	return &httpError{status, fmt.Sprintf(format, args...)}
}

func (s *Service) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[r.Method+" "+r.URL.Path]++
	for i := range s.faults {
		f := &s.faults[i]
		if f.times > 0 && f.method == r.Method && strings.HasPrefix(r.URL.Path, f.prefix) {
			f.times--
			http.Error(w, "injected fault", f.status)
			return
		}
	}
	status, body, herr := s.route(r)
	if herr != nil {
		http.Error(w, herr.msg, herr.status)
		return
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Service) route(r *http.Request) (int, interface{}, *httpError) {
	path := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/v1/auth/token" && r.Method == http.MethodPost:
		return s.token(r)
	case r.URL.Path == transport.RegisterPath && r.Method == http.MethodPost:
		return s.register(r)
	}
	caller, herr := s.authenticate(r)
	if herr != nil {
		return 0, nil, herr
	}
	switch {
	case len(path) == 7 && path[2] == "access_keys":
		return s.accessKey(r, caller, path[3:])
	case len(path) == 6 && path[2] == "policy" && r.Method == http.MethodPut:
		return s.policy(r, caller, path[3:])
	case r.URL.Path == "/v1/storage/clients/find" && r.Method == http.MethodPost:
		c := s.byEmail[r.URL.Query().Get("email")]
		if c == nil {
			return 0, nil, errorf(http.StatusNotFound, "no client with email %q", r.URL.Query().Get("email"))
		}
		return http.StatusOK, c.info, nil
	case len(path) == 4 && path[2] == "clients" && r.Method == http.MethodGet:
		id, herr := parseID(path[3])
		if herr != nil {
			return 0, nil, herr
		}
		c := s.clients[id]
		if c == nil {
			return 0, nil, errorf(http.StatusNotFound, "no client %s", id)
		}
		return http.StatusOK, c.info, nil
	case r.URL.Path == "/v1/storage/records" && r.Method == http.MethodPost:
		return s.writeRecord(r, caller)
	case len(path) == 6 && path[2] == "records" && path[3] == "safe":
		return s.safeRecord(r, caller, path[4], path[5])
	case len(path) == 4 && path[2] == "records" && r.Method == http.MethodGet:
		return s.readRecord(caller, path[3])
	case r.URL.Path == "/v1/storage/search" && r.Method == http.MethodPost:
		return s.search(r, caller)
	}
	return 0, nil, errorf(http.StatusNotFound, "no route for %s %s", r.Method, r.URL.Path)
}

func (s *Service) token(r *http.Request) (int, interface{}, *httpError) {
	keyID, secret, ok := r.BasicAuth()
	if !ok {
		return 0, nil, errorf(http.StatusUnauthorized, "missing credentials")
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		return 0, nil, errorf(http.StatusBadRequest, "unsupported grant")
	}
	c := s.byKeyID[keyID]
	if c == nil || c.apiSecret != secret {
		return 0, nil, errorf(http.StatusUnauthorized, "bad credentials")
	}
	tok := uuid.New().String()
	s.tokens[tok] = c.info.ClientID
	return http.StatusOK, map[string]interface{}{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   s.ExpiresIn,
	}, nil
}

func (s *Service) register(r *http.Request) (int, interface{}, *httpError) {
	var req transport.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, nil, errorf(http.StatusBadRequest, "%v", err)
	}
	if req.Token != s.RegistrationToken {
		return 0, nil, errorf(http.StatusForbidden, "bad registration token")
	}
	if req.Client.PublicKey.Curve25519 == "" {
		return 0, nil, errorf(http.StatusBadRequest, "missing public key")
	}
	creds := s.addClientLocked(req.Client.Name, req.Client.Name, req.Client.PublicKey.Curve25519)
	return http.StatusCreated, transport.RegisterResponse{
		ClientID:  creds.ClientID,
		APIKeyID:  creds.APIKeyID,
		APISecret: creds.APISecret,
		Name:      req.Client.Name,
		PublicKey: req.Client.PublicKey,
	}, nil
}

func (s *Service) authenticate(r *http.Request) (uuid.UUID, *httpError) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return uuid.Nil, errorf(http.StatusUnauthorized, "missing bearer token")
	}
	id, ok := s.tokens[strings.TrimPrefix(h, "Bearer ")]
	if !ok {
		return uuid.Nil, errorf(http.StatusUnauthorized, "unknown token")
	}
	return id, nil
}

func parseID(s string) (uuid.UUID, *httpError) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errorf(http.StatusBadRequest, "bad id %q", s)
	}
	return id, nil
}

func parseTuple(path []string) (transport.Tuple, *httpError) {
	var (
		t    transport.Tuple
		herr *httpError
	)
	if t.WriterID, herr = parseID(path[0]); herr != nil {
		return t, herr
	}
	if t.UserID, herr = parseID(path[1]); herr != nil {
		return t, herr
	}
	if t.ReaderID, herr = parseID(path[2]); herr != nil {
		return t, herr
	}
	t.Type = path[3]
	return t, nil
}

func (s *Service) accessKey(r *http.Request, caller uuid.UUID, path []string) (int, interface{}, *httpError) {
	t, herr := parseTuple(path)
	if herr != nil {
		return 0, nil, herr
	}
	switch r.Method {
	case http.MethodGet:
		if caller != t.ReaderID && caller != t.WriterID {
			return 0, nil, errorf(http.StatusForbidden, "caller may not read access key")
		}
		ak, ok := s.accessKeys[t]
		if !ok {
			return 0, nil, errorf(http.StatusNotFound, "no access key")
		}
		return http.StatusOK, s.wireAccessKey(ak), nil
	case http.MethodPut:
		if caller != t.WriterID {
			return 0, nil, errorf(http.StatusForbidden, "only the writer may store access keys")
		}
		var body struct {
			EAK string `json:"eak"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EAK == "" {
			return 0, nil, errorf(http.StatusBadRequest, "bad access key body")
		}
		s.accessKeys[t] = accessKey{eak: body.EAK, authorizerID: caller}
		return http.StatusCreated, nil, nil
	case http.MethodDelete:
		if caller != t.WriterID {
			return 0, nil, errorf(http.StatusForbidden, "only the writer may delete access keys")
		}
		delete(s.accessKeys, t)
		return http.StatusNoContent, nil, nil
	}
	return 0, nil, errorf(http.StatusMethodNotAllowed, "method %s", r.Method)
}

func (s *Service) wireAccessKey(ak accessKey) *transport.EncryptedAccessKey {
	out := &transport.EncryptedAccessKey{EAK: ak.eak, AuthorizerID: ak.authorizerID}
	if c := s.clients[ak.authorizerID]; c != nil {
		pub := c.info.PublicKey
		out.AuthorizerPublicKey = &pub
	}
	return out
}

func (s *Service) policy(r *http.Request, caller uuid.UUID, path []string) (int, interface{}, *httpError) {
	var (
		key  policyKey
		herr *httpError
	)
	if key.writerID, herr = parseID(path[0]); herr != nil {
		return 0, nil, herr
	}
	if key.userID, herr = parseID(path[1]); herr != nil {
		return 0, nil, herr
	}
	if key.readerID, herr = parseID(path[2]); herr != nil {
		return 0, nil, herr
	}
	if caller != key.writerID {
		return 0, nil, errorf(http.StatusForbidden, "only the writer may set policy")
	}
	var p transport.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return 0, nil, errorf(http.StatusBadRequest, "%v", err)
	}
	switch {
	case len(p.Allow) > 0 && p.Allow[0].Read != nil:
		s.policies[key] = true
	case len(p.Deny) > 0 && p.Deny[0].Read != nil:
		delete(s.policies, key)
	default:
		return 0, nil, errorf(http.StatusBadRequest, "empty policy")
	}
	return http.StatusCreated, nil, nil
}

// canRead requires both an allow policy and an access key for the
// record's type.
func (s *Service) canRead(caller uuid.UUID, m transport.Meta) bool {
	if caller == m.WriterID {
		return true
	}
	if !s.policies[policyKey{m.WriterID, m.UserID, caller}] {
		return false
	}
	_, ok := s.accessKeys[transport.Tuple{WriterID: m.WriterID, UserID: m.UserID, ReaderID: caller, Type: m.Type}]
	return ok
}

func (s *Service) writeRecord(r *http.Request, caller uuid.UUID) (int, interface{}, *httpError) {
	var rec transport.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		return 0, nil, errorf(http.StatusBadRequest, "%v", err)
	}
	if rec.Meta.WriterID != caller {
		return 0, nil, errorf(http.StatusForbidden, "writer must be the caller")
	}
	now := time.Now().UTC()
	s.index++
	rec.Meta.RecordID = uuid.New()
	rec.Meta.Version = uuid.New().String()
	rec.Meta.Created = now
	rec.Meta.LastModified = now
	s.records[rec.Meta.RecordID] = &record{index: s.index, rec: rec}
	return http.StatusCreated, rec, nil
}

func (s *Service) safeRecord(r *http.Request, caller uuid.UUID, idText, version string) (int, interface{}, *httpError) {
	id, herr := parseID(idText)
	if herr != nil {
		return 0, nil, herr
	}
	stored, ok := s.records[id]
	if !ok {
		return 0, nil, errorf(http.StatusNotFound, "no record %s", id)
	}
	if stored.rec.Meta.WriterID != caller {
		return 0, nil, errorf(http.StatusForbidden, "only the writer may modify a record")
	}
	if stored.rec.Meta.Version != version {
		return 0, nil, errorf(http.StatusConflict, "version %s is not current", version)
	}
	switch r.Method {
	case http.MethodPut:
		var rec transport.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			return 0, nil, errorf(http.StatusBadRequest, "%v", err)
		}
		m := stored.rec.Meta
		m.Plain = rec.Meta.Plain
		m.Version = uuid.New().String()
		m.LastModified = time.Now().UTC()
		s.index++
		stored.index = s.index
		stored.rec = transport.Record{Meta: m, Data: rec.Data}
		return http.StatusOK, stored.rec, nil
	case http.MethodDelete:
		delete(s.records, id)
		return http.StatusNoContent, nil, nil
	}
	return 0, nil, errorf(http.StatusMethodNotAllowed, "method %s", r.Method)
}

func (s *Service) readRecord(caller uuid.UUID, idText string) (int, interface{}, *httpError) {
	id, herr := parseID(idText)
	if herr != nil {
		return 0, nil, herr
	}
	stored, ok := s.records[id]
	if !ok {
		return 0, nil, errorf(http.StatusNotFound, "no record %s", id)
	}
	if !s.canRead(caller, stored.rec.Meta) {
		return 0, nil, errorf(http.StatusForbidden, "record not shared with caller")
	}
	return http.StatusOK, stored.rec, nil
}

func (s *Service) search(r *http.Request, caller uuid.UUID) (int, interface{}, *httpError) {
	var req transport.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, nil, errorf(http.StatusBadRequest, "%v", err)
	}
	types := make(map[string]bool)
	for _, typ := range req.ContentTypes {
		types[typ] = true
	}
	writers := make(map[uuid.UUID]bool)
	for _, id := range req.WriterIDs {
		writers[id] = true
	}
	ids := make(map[uuid.UUID]bool)
	for _, id := range req.RecordIDs {
		ids[id] = true
	}
	var matches []*record
	for _, stored := range s.records {
		m := stored.rec.Meta
		switch {
		case stored.index <= req.AfterIndex:
		case len(types) > 0 && !types[m.Type]:
		case len(writers) > 0 && !writers[m.WriterID]:
		case len(ids) > 0 && !ids[m.RecordID]:
		case !req.IncludeAllWriters && m.WriterID != caller:
		case !s.canRead(caller, m):
		default:
			matches = append(matches, stored)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].index < matches[j].index })
	if req.Count > 0 && len(matches) > req.Count {
		matches = matches[:req.Count]
	}
	resp := transport.SearchResponse{Results: []transport.SearchResult{}, LastIndex: req.AfterIndex}
	for _, stored := range matches {
		m := stored.rec.Meta
		result := transport.SearchResult{Meta: m}
		if req.IncludeData {
			result.Data = stored.rec.Data
		}
		if ak, ok := s.accessKeys[transport.Tuple{WriterID: m.WriterID, UserID: m.UserID, ReaderID: caller, Type: m.Type}]; ok {
			result.AccessKey = s.wireAccessKey(ak)
		}
		resp.Results = append(resp.Results, result)
		resp.LastIndex = stored.index
	}
	return http.StatusOK, resp, nil
}
