// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/e3db/client"
	"github.com/grailbio/e3db/config"
	"golang.org/x/term"
	"v.io/x/lib/cmdline"
)

var (
	registerURL   string
	registerToken string
	registerOut   string
	registerKey   bool
)

func newCmdKeygen() *cmdline.Command {
	return &cmdline.Command{
		Runner: runner(runKeygen),
		Name:   "keygen",
		Short:  "Generate a new key pair",
		Long: `
Keygen prints a new private key and its public key, as base64url text.
`,
	}
}

func runKeygen(_ context.Context, env *cmdline.Env, args []string) error {
	if len(args) != 0 {
		return env.UsageErrorf("keygen takes no arguments")
	}
	private, err := client.NewPrivateKey()
	if err != nil {
		return err
	}
	public, err := client.PublicKey(private)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "private_key: %s\npublic_key: %s\n", private, public)
	return nil
}

func newCmdRegister() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner:   runner(runRegister),
		Name:     "register",
		Short:    "Register a new client",
		ArgsName: "<name or email>",
		Long: `
Register registers a new client with the service using a registration
token, and saves the client's configuration. The token is prompted for
if -token is not given.
`,
	}
	cmd.Flags.StringVar(&registerURL, "api-url", config.DefaultAPIURL, "The service endpoint.")
	cmd.Flags.StringVar(&registerToken, "token", "", "The registration token.")
	cmd.Flags.StringVar(&registerOut, "out", "", "Where to save the configuration; defaults to the -config path.")
	cmd.Flags.BoolVar(&registerKey, "prompt-key", false, "Prompt for an existing private key instead of generating one.")
	return cmd
}

func runRegister(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) != 1 {
		return env.UsageErrorf("register takes one argument: the client's name or email")
	}
	opts := client.RegisterOptions{APIURL: registerURL, Token: registerToken, Name: args[0]}
	if opts.Token == "" {
		token, err := promptSecret(env, "Registration token: ")
		if err != nil {
			return err
		}
		opts.Token = token
	}
	if registerKey {
		text, err := promptSecret(env, "Private key: ")
		if err != nil {
			return err
		}
		if err := opts.PrivateKey.UnmarshalText([]byte(text)); err != nil {
			return err
		}
		if err := opts.PrivateKey.Check("private key"); err != nil {
			return err
		}
	}
	cfg, err := client.Register(ctx, opts)
	if err != nil {
		return err
	}
	path := registerOut
	if path == "" {
		path = configFlags.Path()
	}
	if path == "" {
		return env.UsageErrorf("no configuration path: use -out")
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "registered client %s; configuration saved to %s\n", cfg.ClientID, path)
	return nil
}

// promptSecret reads a line from the terminal without echoing it.
func promptSecret(env *cmdline.Env, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for %q: stdin is not a terminal", strings.TrimSuffix(prompt, ": "))
	}
	fmt.Fprint(env.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(env.Stderr)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(b))
	for i := range b {
		b[i] = 0
	}
	return secret, nil
}
