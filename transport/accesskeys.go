// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net/http"

	"github.com/grailbio/e3db/errors"
)

type accessKeyBody struct {
	EAK string `json:"eak"`
}

func accessKeyPath(t Tuple) string {
	return pathf("/v1/storage/access_keys/%s/%s/%s/%s", t.WriterID, t.UserID, t.ReaderID, normalizeType(t.Type))
}

// GetAccessKey returns the wrapped access key identified by t, or nil
// if the service has none.
func (c *Client) GetAccessKey(ctx context.Context, t Tuple) (*EncryptedAccessKey, error) {
	var eak EncryptedAccessKey
	err := c.call(ctx, request{
		op:     "get access key " + t.String(),
		method: http.MethodGet,
		path:   accessKeyPath(t),
		out:    &eak,
		ok:     []int{http.StatusOK},
	})
	if errors.Is(errors.NotExist, err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &eak, nil
}

// PutAccessKey stores the wrapped access key eak for t.
func (c *Client) PutAccessKey(ctx context.Context, t Tuple, eak string) error {
	return c.call(ctx, request{
		op:     "put access key " + t.String(),
		method: http.MethodPut,
		path:   accessKeyPath(t),
		in:     accessKeyBody{EAK: eak},
		ok:     []int{http.StatusCreated, http.StatusOK},
	})
}

// DeleteAccessKey removes the access key for t.
func (c *Client) DeleteAccessKey(ctx context.Context, t Tuple) error {
	return c.call(ctx, request{
		op:     "delete access key " + t.String(),
		method: http.MethodDelete,
		path:   accessKeyPath(t),
		ok:     []int{http.StatusNoContent, http.StatusOK},
	})
}
