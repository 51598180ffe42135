// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"flag"
	"io"
	golog "log"
	"sync/atomic"
)

var golevel int32 = int32(Info)

// AddFlags adds the standard log level flag to the provided flag set.
func AddFlags(fs *flag.FlagSet) {
	fs.Var(new(logFlag), "log", "set log level (off, error, info, debug)")
}

const (
	Ldate         = golog.Ldate         // the date in the local time zone: 2009/01/23
	Ltime         = golog.Ltime         // the time in the local time zone: 01:23:23
	Lmicroseconds = golog.Lmicroseconds // microsecond resolution: 01:23:23.123123.  assumes Ltime.
	Lshortfile    = golog.Lshortfile    // final file name element and line number: d.go:23.
	LstdFlags     = Ldate | Ltime       // initial values for the standard logger
)

// SetFlags sets the output flags for the Go standard logger.
func SetFlags(flag int) {
	golog.SetFlags(flag)
}

// SetOutput sets the output destination for the Go standard logger.
func SetOutput(w io.Writer) {
	golog.SetOutput(w)
}

// SetLevel sets the log level used by the Go standard logger outputter
// and by outputters created without an explicit level.
func SetLevel(level Level) {
	atomic.StoreInt32(&golevel, int32(level))
}

// GetLevel returns the level set by SetLevel or the -log flag.
func GetLevel() Level {
	return Level(atomic.LoadInt32(&golevel))
}

type logFlag string

func (f logFlag) String() string {
	return GetLevel().String()
}

func (f *logFlag) Set(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	SetLevel(l)
	return nil
}

// Get implements flag.Getter.
func (logFlag) Get() interface{} {
	return GetLevel()
}

type gologOutputter struct{}

func (gologOutputter) Level() Level { return GetLevel() }

func (gologOutputter) Output(calldepth int, level Level, s string) error {
	if GetLevel() < level {
		return nil
	}
	return golog.Output(calldepth+1, s)
}
