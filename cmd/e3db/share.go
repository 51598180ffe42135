// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"v.io/x/lib/cmdline"
)

func newCmdShare() *cmdline.Command {
	return &cmdline.Command{
		Runner:   runner(runShare),
		Name:     "share",
		Short:    "Allow another client to read a record type",
		ArgsName: "<type> <client id or email>",
	}
}

func runShare(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) != 2 {
		return env.UsageErrorf("share requires a record type and a reader")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	if strings.Contains(args[1], "@") {
		_, err = c.ShareEmail(ctx, args[0], args[1]).Wait(ctx)
		return err
	}
	reader, err := uuid.Parse(args[1])
	if err != nil {
		return env.UsageErrorf("invalid reader %q: %v", args[1], err)
	}
	_, err = c.Share(ctx, args[0], reader).Wait(ctx)
	return err
}

func newCmdRevoke() *cmdline.Command {
	return &cmdline.Command{
		Runner:   runner(runRevoke),
		Name:     "revoke",
		Short:    "Withdraw another client's access to a record type",
		ArgsName: "<type> <client id or email>",
	}
}

func runRevoke(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) != 2 {
		return env.UsageErrorf("revoke requires a record type and a reader")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	if strings.Contains(args[1], "@") {
		_, err = c.RevokeEmail(ctx, args[0], args[1]).Wait(ctx)
		return err
	}
	reader, err := uuid.Parse(args[1])
	if err != nil {
		return env.UsageErrorf("invalid reader %q: %v", args[1], err)
	}
	_, err = c.Revoke(ctx, args[0], reader).Wait(ctx)
	return err
}
