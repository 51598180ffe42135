// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/e3db/record"
	"v.io/x/lib/cmdline"
)

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(value string) error {
	*l = append(*l, value)
	return nil
}

var (
	plainFlag   listFlag
	countFlag   int
	afterFlag   int64
	typesFlag   listFlag
	writersFlag listFlag
	allFlag     bool
)

// output is the printed form of a record.
type output struct {
	RecordID     uuid.UUID         `json:"record_id"`
	WriterID     uuid.UUID         `json:"writer_id"`
	Type         string            `json:"type"`
	Version      string            `json:"version"`
	LastModified time.Time         `json:"last_modified"`
	Plain        map[string]string `json:"plain,omitempty"`
	Data         map[string]string `json:"data"`
}

func printRecords(w io.Writer, recs ...record.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, rec := range recs {
		err := enc.Encode(output{
			RecordID:     rec.Meta.RecordID,
			WriterID:     rec.Meta.WriterID,
			Type:         rec.Meta.Type,
			Version:      rec.Meta.Version,
			LastModified: rec.Meta.LastModified,
			Plain:        rec.Meta.Plain,
			Data:         rec.Data,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func newCmdWrite() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner:   runner(runWrite),
		Name:     "write",
		Short:    "Write a new record",
		ArgsName: "<type> <key=value>...",
	}
	cmd.Flags.Var(&plainFlag, "plain", "Unencrypted metadata as key=value; may be repeated.")
	return cmd
}

func runWrite(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) < 1 {
		return env.UsageErrorf("write requires a record type")
	}
	fields, err := parseFields(env, args[1:])
	if err != nil {
		return err
	}
	plain, err := parseFields(env, plainFlag)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	rec, err := c.Write(ctx, args[0], fields, plain).Wait(ctx)
	if err != nil {
		return err
	}
	return printRecords(env.Stdout, *rec)
}

func newCmdRead() *cmdline.Command {
	return &cmdline.Command{
		Runner:   runner(runRead),
		Name:     "read",
		Short:    "Read and decrypt records",
		ArgsName: "<record id>...",
	}
}

func runRead(ctx context.Context, env *cmdline.Env, args []string) error {
	ids, err := parseIDs(env, args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return env.UsageErrorf("read requires at least one record id")
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	for _, id := range ids {
		rec, err := c.Read(ctx, id).Wait(ctx)
		if err != nil {
			return err
		}
		if err := printRecords(env.Stdout, *rec); err != nil {
			return err
		}
	}
	return nil
}

func newCmdUpdate() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner:   runner(runUpdate),
		Name:     "update",
		Short:    "Replace the fields of a record",
		ArgsName: "<record id> <version> <type> <key=value>...",
	}
	cmd.Flags.Var(&plainFlag, "plain", "Unencrypted metadata as key=value; may be repeated.")
	return cmd
}

func runUpdate(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) < 3 {
		return env.UsageErrorf("update requires a record id, its version and its type")
	}
	ids, err := parseIDs(env, args[:1])
	if err != nil {
		return err
	}
	fields, err := parseFields(env, args[3:])
	if err != nil {
		return err
	}
	plain, err := parseFields(env, plainFlag)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	rec, err := c.Update(ctx, ids[0], args[1], args[2], fields, plain).Wait(ctx)
	if err != nil {
		return err
	}
	return printRecords(env.Stdout, *rec)
}

func newCmdDelete() *cmdline.Command {
	return &cmdline.Command{
		Runner:   runner(runDelete),
		Name:     "delete",
		Short:    "Delete a record",
		ArgsName: "<record id> <version>",
	}
}

func runDelete(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) != 2 {
		return env.UsageErrorf("delete requires a record id and its version")
	}
	ids, err := parseIDs(env, args[:1])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.Delete(ctx, ids[0], args[1]).Wait(ctx)
	return err
}

func newCmdQuery() *cmdline.Command {
	cmd := &cmdline.Command{
		Runner: runner(runQuery),
		Name:   "query",
		Short:  "List readable records",
		Long: `
Query lists and decrypts the records readable by the client, one page
at a time unless -all is given.
`,
	}
	cmd.Flags.IntVar(&countFlag, "count", record.DefaultQueryCount, "Page size.")
	cmd.Flags.Int64Var(&afterFlag, "after", 0, "Index returned by a previous query.")
	cmd.Flags.Var(&typesFlag, "type", "Restrict to a record type; may be repeated.")
	cmd.Flags.Var(&writersFlag, "writer", "Restrict to a writer's id; may be repeated.")
	cmd.Flags.BoolVar(&allFlag, "all", false, "Fetch every page.")
	return cmd
}

func runQuery(ctx context.Context, env *cmdline.Env, args []string) error {
	if len(args) != 0 {
		return env.UsageErrorf("query takes no arguments")
	}
	writers, err := parseIDs(env, writersFlag)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	params := record.QueryParams{After: afterFlag, Count: countFlag, Types: typesFlag, Writers: writers}
	for {
		result, err := c.Query(ctx, params).Wait(ctx)
		if err != nil {
			return err
		}
		if err := printRecords(env.Stdout, result.Records...); err != nil {
			return err
		}
		if !allFlag || len(result.Records) == 0 {
			fmt.Fprintf(env.Stderr, "last index: %d\n", result.LastIndex)
			return nil
		}
		params.After = result.LastIndex
	}
}

func parseIDs(env *cmdline.Env, args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(args))
	for i, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, env.UsageErrorf("invalid id %q: %v", arg, err)
		}
		ids[i] = id
	}
	return ids, nil
}
