// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command e3db manages end-to-end encrypted records from the command
// line: it generates keys, registers clients, writes, reads and queries
// records, and shares record types with other clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/grailbio/e3db/client"
	"github.com/grailbio/e3db/config"
	"github.com/grailbio/e3db/log"
	"github.com/sirupsen/logrus"
	"v.io/x/lib/cmdline"
)

var configFlags *config.Flags

func init() {
	path, err := config.DefaultPath()
	if err != nil {
		path = ""
	}
	configFlags = config.AddFlags(flag.CommandLine, path)
	log.AddFlags(flag.CommandLine)
}

// runner adapts a function to a cmdline.Runner. It routes logging
// through logrus and cancels the command's context on interrupt.
type runner func(ctx context.Context, env *cmdline.Env, args []string) error

func (r runner) Run(env *cmdline.Env, args []string) error {
	setupLogging(env.Stderr)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return r(ctx, env, args)
}

func setupLogging(w io.Writer) {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(log.LogrusLevel(log.GetLevel()))
	log.SetOutputter(log.NewLogrusOutputter(logger, logrus.Fields{"cmd": "e3db"}))
}

func newClient() (*client.Client, error) {
	cfg, err := configFlags.Load()
	if err != nil {
		return nil, err
	}
	return client.New(cfg, client.Options{})
}

// parseFields parses key=value arguments.
func parseFields(env *cmdline.Env, args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		elems := strings.SplitN(arg, "=", 2)
		if len(elems) != 2 || elems[0] == "" {
			return nil, env.UsageErrorf("invalid field %q: want key=value", arg)
		}
		fields[elems[0]] = elems[1]
	}
	return fields, nil
}

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "e3db",
		Short:    "Manage end-to-end encrypted records",
		LookPath: false,
		Long: fmt.Sprintf(`
Command e3db manages end-to-end encrypted records.

The client configuration is read from the file given by -config, or
from $HOME/.tozny/e3db.yaml by default, and may be amended with
-set key=value and the environment variables E3DB_API_URL,
E3DB_API_KEY_ID, E3DB_API_SECRET, E3DB_CLIENT_ID and E3DB_PRIVATE_KEY.
Record fields are given as key=value arguments and are encrypted before
they leave the client; plain metadata is given with -plain key=value.
The default service is %s.
`, config.DefaultAPIURL),
		Children: []*cmdline.Command{
			newCmdKeygen(),
			newCmdRegister(),
			newCmdWrite(),
			newCmdRead(),
			newCmdUpdate(),
			newCmdDelete(),
			newCmdQuery(),
			newCmdShare(),
			newCmdRevoke(),
		},
	}
}

func main() {
	cmdline.Main(newCmdRoot())
}
