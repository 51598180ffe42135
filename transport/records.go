// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// WriteRecord creates a record. The service assigns its id, version
// and timestamps.
func (c *Client) WriteRecord(ctx context.Context, rec Record) (*Record, error) {
	var out Record
	err := c.call(ctx, request{
		op:     "write record",
		method: http.MethodPost,
		path:   "/v1/storage/records",
		in:     rec,
		out:    &out,
		ok:     []int{http.StatusCreated},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRecord replaces the record rec.Meta.RecordID if its current
// version is rec.Meta.Version.
func (c *Client) UpdateRecord(ctx context.Context, rec Record) (*Record, error) {
	var out Record
	err := c.call(ctx, request{
		op:     "update record " + rec.Meta.RecordID.String(),
		method: http.MethodPut,
		path:   pathf("/v1/storage/records/safe/%s/%s", rec.Meta.RecordID, rec.Meta.Version),
		in:     rec,
		out:    &out,
		ok:     []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRecord removes record id if its current version is version.
func (c *Client) DeleteRecord(ctx context.Context, id uuid.UUID, version string) error {
	return c.call(ctx, request{
		op:     "delete record " + id.String(),
		method: http.MethodDelete,
		path:   pathf("/v1/storage/records/safe/%s/%s", id, version),
		ok:     []int{http.StatusNoContent},
	})
}

// ReadRecord returns record id.
func (c *Client) ReadRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	var out Record
	err := c.call(ctx, request{
		op:     "read record " + id.String(),
		method: http.MethodGet,
		path:   pathf("/v1/storage/records/%s", id),
		out:    &out,
		ok:     []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Search returns a page of the records readable by the caller.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	err := c.call(ctx, request{
		op:     "search records",
		method: http.MethodPost,
		path:   "/v1/storage/search",
		in:     req,
		out:    &out,
		ok:     []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
