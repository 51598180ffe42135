// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package encryption

import (
	"sort"
	"sync"

	"github.com/grailbio/e3db/errors"
)

type db struct {
	sync.Mutex
	providers map[string]Provider
}

var providers = &db{providers: map[string]Provider{}}

// Lookup returns the provider, if any, registered under the supplied name.
func Lookup(name string) (Provider, error) {
	providers.Lock()
	defer providers.Unlock()
	p := providers.providers[name]
	if p == nil {
		return nil, errors.E(errors.NotExist, "no such crypto provider:", name)
	}
	return p, nil
}

// Register registers a provider under the supplied name.
func Register(name string, p Provider) error {
	providers.Lock()
	defer providers.Unlock()
	if _, present := providers.providers[name]; present {
		return errors.E(errors.Invalid, "crypto provider already registered:", name)
	}
	providers.providers[name] = p
	return nil
}

// Registered returns the sorted names of all registered providers.
func Registered() []string {
	providers.Lock()
	defer providers.Unlock()
	names := make([]string, 0, len(providers.providers))
	for name := range providers.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
