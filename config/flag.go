// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/e3db/errors"
)

type listFlag struct {
	values    *[]string
	needEqual bool
}

func (l *listFlag) String() string { return "" }

func (l *listFlag) Set(value string) error {
	if l.needEqual && !strings.Contains(value, "=") {
		return fmt.Errorf("invalid flag value %s: missing '='", value)
	}
	*l.values = append(*l.values, value)
	return nil
}

// Flags holds the configuration flags registered by AddFlags.
type Flags struct {
	path        string
	defaultPath string
	params      []string
}

// AddFlags registers a set of flags on the provided FlagSet. These
// flags select and amend the configuration returned by Flags.Load.
// The flags are:
//
//	-config path
//		Loads the configuration at the given path. If the flag is not
//		given, the provided default path is loaded instead; a missing
//		default file yields the default configuration.
//
//	-set key=value
//		Sets the named configuration key. See Config.Set for details.
//		This flag may be repeated.
func AddFlags(fs *flag.FlagSet, defaultPath string) *Flags {
	f := &Flags{defaultPath: defaultPath}
	fs.StringVar(&f.path, "config", "", "load the client configuration at the provided path (default "+defaultPath+")")
	fs.Var(&listFlag{&f.params, true}, "set", "set a configuration key=value; may be repeated")
	return f
}

// Path returns the configuration path selected by the flags.
func (f *Flags) Path() string {
	if f.path != "" {
		return f.path
	}
	return f.defaultPath
}

// Load loads the configuration selected by the flags, then applies the
// environment overrides (see Config.ApplyEnv) and finally any -set
// flags.
func (f *Flags) Load() (Config, error) {
	var (
		cfg Config
		err error
	)
	switch {
	case f.path != "":
		cfg, err = Load(f.path)
	case f.defaultPath != "":
		cfg, err = Load(f.defaultPath)
		if errors.Is(errors.NotExist, err) {
			cfg, err = Default(), nil
		}
	default:
		cfg = Default()
	}
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	for _, param := range f.params {
		elems := strings.SplitN(param, "=", 2)
		if err := cfg.Set(elems[0], elems[1]); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
