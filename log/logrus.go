// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"github.com/sirupsen/logrus"
)

type logrusOutputter struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewLogrusOutputter returns an Outputter that writes to the provided
// logrus logger, attaching fields to every entry. The outputter's level
// follows the logger's: logrus debug and trace map to Debug, info to
// Info, and the more severe levels to Error.
func NewLogrusOutputter(logger *logrus.Logger, fields logrus.Fields) Outputter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &logrusOutputter{logger: logger, fields: fields}
}

func (o *logrusOutputter) Level() Level {
	switch l := o.logger.GetLevel(); {
	case l >= logrus.DebugLevel:
		return Debug
	case l >= logrus.InfoLevel:
		return Info
	default:
		return Error
	}
}

func (o *logrusOutputter) Output(calldepth int, level Level, s string) error {
	if level > o.Level() || level == Off {
		return nil
	}
	entry := o.logger.WithFields(o.fields)
	switch {
	case level == Error:
		entry.Error(s)
	case level == Info:
		entry.Info(s)
	default:
		entry.Debug(s)
	}
	return nil
}

// LogrusLevel converts a Level into the corresponding logrus level.
func LogrusLevel(l Level) logrus.Level {
	switch {
	case l <= Off:
		return logrus.PanicLevel
	case l == Error:
		return logrus.ErrorLevel
	case l == Info:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
