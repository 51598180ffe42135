// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/e3db/errors"
	"github.com/stretchr/testify/assert"
)

func TestOutcome(t *testing.T) {
	for _, c := range []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.E(errors.NotShared, "read"), "not_shared_with_caller"},
		{errors.E("write", errors.E(errors.Busy, "work queue is full")), "client_busy"},
		{context.Canceled, "operation_was_canceled"},
		{fmt.Errorf("plain"), "unknown_error"},
		{errors.E("panic: boom"), "unknown_error"},
	} {
		assert.Equal(t, c.want, outcome(c.err), "%v", c.err)
	}
}
