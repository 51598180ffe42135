// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// PutPolicy sets the sharing policy that governs readerID's access to
// the records written by writerID about userID. Policies are not typed;
// access to a type additionally requires an access key for it.
func (c *Client) PutPolicy(ctx context.Context, writerID, userID, readerID uuid.UUID, policy Policy) error {
	return c.call(ctx, request{
		op:     fmt.Sprintf("put policy %s/%s/%s", writerID, userID, readerID),
		method: http.MethodPut,
		path:   pathf("/v1/storage/policy/%s/%s/%s", writerID, userID, readerID),
		in:     policy,
		ok:     []int{http.StatusCreated},
	})
}
