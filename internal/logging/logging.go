// Package logging builds the server's zerolog logger and the optional websocket trace file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	Dev       bool   // human readable console output
	Debug     bool   // debug level
	WS        bool   // trace every websocket frame
	OutputDir string // where websocket.log goes; empty traces through the main logger
}

// AppLogger is the process logger. Components receive Logger(); the websocket trace
// is routed through WS so it can be toggled without touching the level.
type AppLogger struct {
	log  zerolog.Logger
	ws   bool
	mu   sync.Mutex
	file *os.File
	wsN  int
}

// New creates the logger writing to out (os.Stderr when nil).
func New(cfg Config, out io.Writer) (*AppLogger, error) {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Dev {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	al := &AppLogger{
		log: zerolog.New(out).Level(level).With().Timestamp().Logger(),
		ws:  cfg.WS,
	}
	if cfg.WS && cfg.OutputDir != "" {
		path := filepath.Join(cfg.OutputDir, "websocket.log")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open websocket log: %w", err)
		}
		al.file = f
	}
	return al, nil
}

// Nop returns a logger that discards everything.
func Nop() *AppLogger {
	return &AppLogger{log: zerolog.Nop()}
}

// Logger returns the structured logger handed to components.
func (al *AppLogger) Logger() zerolog.Logger { return al.log }

// With returns a child logger tagged with the component name.
func (al *AppLogger) With(component string) zerolog.Logger {
	return al.log.With().Str("component", component).Logger()
}

// Debug logs a formatted debug line under context.
func (al *AppLogger) Debug(context, format string, args ...any) {
	al.log.Debug().Str("ctx", context).Msgf(format, args...)
}

// Error logs err under context. Nil errors are ignored.
func (al *AppLogger) Error(context string, err error) {
	if err == nil {
		return
	}
	al.log.Error().Err(err).Str("ctx", context).Msg(context + " failed")
}

// WSEnabled reports whether websocket frames are traced.
func (al *AppLogger) WSEnabled() bool { return al.ws }

// WS traces one websocket frame. direction is "IN" or "OUT".
func (al *AppLogger) WS(direction, userID string, frame []byte) {
	if !al.ws {
		return
	}
	if al.file == nil {
		al.log.Debug().Str("dir", direction).Str("user", userID).RawJSON("frame", frame).Msg("ws")
		return
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	al.wsN++
	fmt.Fprintf(al.file, "[%s] #%d %s [%s]: %s\n", time.Now().Format("15:04:05.000"), al.wsN, direction, userID, frame)
}

// Close closes the websocket trace file if one is open.
func (al *AppLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.file == nil {
		return nil
	}
	err := al.file.Close()
	al.file = nil
	return err
}
