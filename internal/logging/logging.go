// Package logging builds the process zerolog logger and adapts it to the
// key/value Logger the core service expects.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. format is "json" or "console".
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "whispers").Logger(), nil
}

// Adapter implements core.Logger over zerolog. Arguments are alternating keys
// and values; a trailing key without a value is logged under "extra".
type Adapter struct {
	log zerolog.Logger
}

// NewAdapter wraps log.
func NewAdapter(log zerolog.Logger) Adapter { return Adapter{log: log} }

func (a Adapter) Debug(msg string, args ...any) { emit(a.log.Debug(), msg, args) }
func (a Adapter) Info(msg string, args ...any)  { emit(a.log.Info(), msg, args) }
func (a Adapter) Warn(msg string, args ...any)  { emit(a.log.Warn(), msg, args) }
func (a Adapter) Error(msg string, args ...any) { emit(a.log.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 == len(args) {
			e = e.Interface("extra", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		case int64:
			e = e.Int64(key, v)
		case int:
			e = e.Int(key, v)
		case bool:
			e = e.Bool(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
