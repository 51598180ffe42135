// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package encryption

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/e3db/errors"
)

var (
	randMu       sync.RWMutex
	randomSource io.Reader = rand.Reader
)

// SetRandSource sets the source of random numbers used for nonces and
// keys and returns the previous one. It is intended primarily for
// testing purposes.
func SetRandSource(rd io.Reader) io.Reader {
	randMu.Lock()
	defer randMu.Unlock()
	old := randomSource
	randomSource = rd
	return old
}

// RandomBytes returns n bytes read from the random source.
func RandomBytes(n int) ([]byte, error) {
	randMu.RLock()
	rd := randomSource
	randMu.RUnlock()
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return nil, errors.E(fmt.Sprintf("failed to read %d bytes of random data", n), err)
	}
	return b, nil
}
