package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
	minLevel   = LevelInfo
)

// initLogger initializes the global logger to write human readable lines to
// stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		}).With().Timestamp().Logger().Level(zerologLevel(minLevel))
	})
}

// SetOutput sends log lines to w as JSON, one object per line.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(zerolog.SyncWriter(w)).With().Timestamp().Logger().Level(zerologLevel(minLevel))
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
	logger = logger.Level(zerologLevel(l))
}

// ParseLevel accepts debug, info and error in any case. An empty string is
// info.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, nil
	case LevelInfo, "":
		return LevelInfo, nil
	case LevelError:
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("log: unknown level %q", s)
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, nil, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, nil, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(LevelError, msg, err, kv...)
}

func logWithLevel(level Level, msg string, err error, kv ...any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	var e *zerolog.Event
	switch level {
	case LevelDebug:
		e = l.Debug()
	case LevelError:
		e = l.Error().Err(err)
	default:
		e = l.Info()
	}
	if e == nil {
		return
	}
	appendKVs(e, kv...).Msg(msg)
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// appendKVs adds key, value pairs to e. Pairs with a non-string key and a
// trailing odd value are dropped.
func appendKVs(e *zerolog.Event, kv ...any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case int:
			e = e.Int(key, v)
		case bool:
			e = e.Bool(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Str(key, v.String())
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}
