/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// NameToLevel converts a level name to a zapcore.Level.  If the level name is
// unknown, zapcore.InfoLevel is returned.
func NameToLevel(level string) zapcore.Level {
	l, err := nameToLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func nameToLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO", "NOTICE":
		return zapcore.InfoLevel, nil
	case "WARNING", "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel, nil
	case "DPANIC":
		return zapcore.DPanicLevel, nil
	case "PANIC":
		return zapcore.PanicLevel, nil
	case "FATAL":
		return zapcore.FatalLevel, nil
	default:
		var l zapcore.Level
		err := l.UnmarshalText([]byte(level))
		return l, err
	}
}

// IsValidLevel reports whether the name is a known level.
func IsValidLevel(level string) bool {
	_, err := nameToLevel(level)
	return err == nil
}
