// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log_test

import (
	"bytes"
	"flag"
	"os"
	"testing"

	"github.com/grailbio/e3db/log"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOutputter struct {
	level    log.Level
	messages map[log.Level][]string
}

func newTestOutputter(level log.Level) *testOutputter {
	return &testOutputter{level, make(map[log.Level][]string)}
}

func (t *testOutputter) Empty() bool {
	for _, m := range t.messages {
		if len(m) != 0 {
			return false
		}
	}
	return true
}

func (t *testOutputter) Next(level log.Level) string {
	if len(t.messages[level]) == 0 {
		return ""
	}
	var m string
	m, t.messages[level] = t.messages[level][0], t.messages[level][1:]
	return m
}

func (t *testOutputter) Level() log.Level {
	return t.level
}

func (t *testOutputter) Output(calldepth int, level log.Level, s string) error {
	t.messages[level] = append(t.messages[level], s)
	return nil
}

func TestLog(t *testing.T) {
	out := newTestOutputter(log.Info)
	defer log.SetOutputter(log.SetOutputter(out))
	log.Printf("hello %q", "world")
	if got, want := out.Next(log.Info), `hello "world"`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	log.Error.Print(1, 2, 3)
	if got, want := out.Next(log.Error), "1 2 3"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	log.Debug.Print("x")
	if got, want := out.Next(log.Debug), ""; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !out.Empty() {
		t.Error("extra messages")
	}
}

func TestLevelFlag(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	log.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"-log", "debug"}))
	assert.Equal(t, log.Debug, log.GetLevel())
	assert.Error(t, fs.Parse([]string{"-log", "loud"}))
}

func TestLogrusOutputter(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)

	defer log.SetOutputter(log.SetOutputter(log.NewLogrusOutputter(logger, logrus.Fields{"component": "e3db"})))
	log.Printf("wrote record of type %s", "contact")
	log.Debug.Print("renewed token")

	assert.Contains(t, buf.String(), "wrote record of type contact")
	assert.Contains(t, buf.String(), "component=e3db")
	assert.NotContains(t, buf.String(), "renewed token")
	assert.Equal(t, logrus.DebugLevel, log.LogrusLevel(log.Debug))
}

func ExampleSetOutput() {
	log.SetOutput(os.Stdout)
	log.SetFlags(0)
	log.Print("hello, world!")
	log.Error.Print("hello from error")
	log.Debug.Print("invisible")

	// Output:
	// hello, world!
	// hello from error
}
