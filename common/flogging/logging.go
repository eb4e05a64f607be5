/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging

import (
	"io"
	"os"
	"sync"

	zaplogfmt "github.com/sykesm/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is used to provide dependencies to a Logging instance.
type Config struct {
	// Format is the log record format. "json" and "logfmt" select the
	// structured encoders; any other value selects the console encoder.
	Format string

	// LogSpec determines the log levels that are enabled for the logging system. The
	// spec must be in a format that can be processed by ActivateSpec.
	//
	// If LogSpec is not provided, FABRIC_LOGGING_SPEC is consulted, and then
	// loggers are enabled at the INFO level.
	LogSpec string

	// Writer is the sink for encoded and formatted log records.
	//
	// If a Writer is not provided, os.Stderr will be used as the log sink.
	Writer io.Writer
}

// Encoding is the log record encoding.
type Encoding int8

const (
	CONSOLE Encoding = iota
	JSON
	LOGFMT
)

// Logging maintains the state associated with the logging system: the level
// of every named logger, the active encoding and the sink.
type Logging struct {
	*LoggerLevels

	mutex         sync.RWMutex
	encoding      Encoding
	encoderConfig zapcore.EncoderConfig
	encoder       zapcore.Encoder
	writer        zapcore.WriteSyncer
}

// New creates a new logging system and initializes it with the provided
// configuration.
func New(c Config) (*Logging, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.NameKey = "name"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	s := &Logging{
		LoggerLevels: &LoggerLevels{
			defaultLevel: defaultLevel,
		},
		encoderConfig: encoderConfig,
	}

	err := s.Apply(c)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Apply applies the provided configuration to the logging system.
func (s *Logging) Apply(c Config) error {
	s.SetFormat(c.Format)

	if c.LogSpec == "" {
		c.LogSpec = os.Getenv("FABRIC_LOGGING_SPEC")
	}
	if c.LogSpec == "" {
		c.LogSpec = defaultLevel.String()
	}

	err := s.LoggerLevels.ActivateSpec(c.LogSpec)
	if err != nil {
		return err
	}

	if c.Writer == nil {
		c.Writer = os.Stderr
	}
	s.SetWriter(c.Writer)

	return nil
}

// SetFormat updates how log records are formatted and encoded. Log entries
// created after this method has completed will use the new format.
func (s *Logging) SetFormat(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch format {
	case "json":
		s.encoding = JSON
		s.encoder = zapcore.NewJSONEncoder(s.encoderConfig)
	case "logfmt":
		s.encoding = LOGFMT
		s.encoder = zaplogfmt.NewEncoder(s.encoderConfig)
	default:
		consoleConfig := s.encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		s.encoding = CONSOLE
		s.encoder = zapcore.NewConsoleEncoder(consoleConfig)
	}
}

// SetWriter controls which writer formatted log records are written to.
// Writers, with the exception of an *os.File, need to be safe for concurrent
// use by multiple go routines.
func (s *Logging) SetWriter(w io.Writer) io.Writer {
	var sw zapcore.WriteSyncer
	switch t := w.(type) {
	case *os.File:
		sw = zapcore.Lock(t)
	case zapcore.WriteSyncer:
		sw = t
	default:
		sw = zapcore.AddSync(w)
	}

	s.mutex.Lock()
	ow := s.writer
	s.writer = sw
	s.mutex.Unlock()

	return ow
}

// Encoding returns the current log record encoding.
func (s *Logging) Encoding() Encoding {
	s.mutex.RLock()
	e := s.encoding
	s.mutex.RUnlock()
	return e
}

func (s *Logging) encoderAndWriter() (zapcore.Encoder, zapcore.WriteSyncer) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.encoder, s.writer
}

// ZapLogger instantiates a new zap.Logger with the specified name. The name
// is used to determine which log levels are enabled.
func (s *Logging) ZapLogger(name string) *zap.Logger {
	if !isValidLoggerName(name) {
		panic(name + " is an invalid logger name")
	}

	c := &core{name: name, logging: s}
	return NewZapLogger(c).Named(name)
}

// Logger instantiates a new FabricLogger with the specified name. The name is
// used to determine which log levels are enabled.
func (s *Logging) Logger(name string) *FabricLogger {
	zl := s.ZapLogger(name)
	return NewFabricLogger(zl)
}

// core writes entries with the encoder and writer that are current on the
// logging system at the time of the write, so loggers created before Apply
// follow the new configuration.
type core struct {
	name    string
	logging *Logging
	fields  []zapcore.Field
}

func (c *core) Enabled(lvl zapcore.Level) bool {
	return c.logging.Level(c.name).Enabled(lvl)
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := &core{name: c.name, logging: c.logging}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *core) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *core) Write(e zapcore.Entry, fields []zapcore.Field) error {
	encoder, writer := c.logging.encoderAndWriter()
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(append(all, c.fields...), fields...)

	buf, err := encoder.EncodeEntry(e, all)
	if err != nil {
		return err
	}
	_, err = writer.Write(buf.Bytes())
	buf.Free()
	if err != nil {
		return err
	}

	if e.Level >= zapcore.PanicLevel {
		return writer.Sync()
	}
	return nil
}

func (c *core) Sync() error {
	_, writer := c.logging.encoderAndWriter()
	return writer.Sync()
}
