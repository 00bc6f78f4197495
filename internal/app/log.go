package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
)

// lineHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<sessionID>\t<message>\t<key=value ...>
type lineHandler struct {
	w         io.Writer
	level     slog.Level
	sessionID string
	attrs     []slog.Attr
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.sessionID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	// Each record is a single write.
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{
		w:         h.w,
		level:     h.level,
		sessionID: h.sessionID,
		attrs:     append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *lineHandler) WithGroup(string) slog.Handler { return h }

// parseLevel maps a config level name to a slog level. Empty means info.
func parseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

// newLogger creates a structured logger that writes to a rotating
// logDir/budgetsync.log and to stderr (if non-nil). It returns the logger
// and the log file for cleanup.
func newLogger(logDir string, cfg config.LogConfig, sessionID string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "budgetsync.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}

	var w io.Writer = file
	if stderr != nil {
		w = io.MultiWriter(file, stderr)
	}
	handler := &lineHandler{w: w, level: level, sessionID: sessionID}
	return slog.New(handler), file, nil
}

// slogAdapter wraps *slog.Logger to satisfy the budget.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

var _ budget.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
