package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPrefix    = "fundval"
	defaultRetention = 7
	fileDateLayout   = "20060102"
)

const (
	envLogLevel  = "FUNDVAL_LOG_LEVEL"
	envLogFormat = "FUNDVAL_LOG_FORMAT"
)

// DailyWriter appends to one file per day and prunes files older than the
// retention window.
type DailyWriter struct {
	dir           string
	prefix        string
	retentionDays int
	now           func() time.Time

	mu          sync.Mutex
	currentDate string
	file        *os.File
}

// NewDailyWriter creates a rotating writer in dir. Empty prefix and
// non-positive retention fall back to defaults.
func NewDailyWriter(dir, prefix string, retentionDays int) (*DailyWriter, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetention
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &DailyWriter{
		dir:           dir,
		prefix:        prefix,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if err := w.rotateIfNeeded(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(w.now()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the current file.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, date))
}

func (w *DailyWriter) rotateIfNeeded(now time.Time) error {
	date := now.Format(fileDateLayout)
	if date == w.currentDate && w.file != nil {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = file
	w.currentDate = date
	w.prune(now)
	return nil
}

func (w *DailyWriter) prune(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.retentionDays)
	prefix := w.prefix + "-"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		date, err := time.ParseInLocation(fileDateLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log"), now.Location())
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

// Options configures New. Level and Format are overridden by FUNDVAL_LOG_LEVEL
// and FUNDVAL_LOG_FORMAT when set.
type Options struct {
	// Dir enables the daily file when non-empty.
	Dir           string
	Prefix        string
	RetentionDays int
	Level         slog.Level
	Format        string
	// Console defaults to stderr.
	Console io.Writer
}

// New builds the process logger and installs it as the slog default. The
// returned writer is nil when no Dir is configured.
func New(opts Options) (*slog.Logger, *DailyWriter, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	out := console
	var writer *DailyWriter
	if opts.Dir != "" {
		var err error
		writer, err = NewDailyWriter(opts.Dir, opts.Prefix, opts.RetentionDays)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(console, writer)
	}
	format := opts.Format
	if env := strings.TrimSpace(os.Getenv(envLogFormat)); env != "" {
		format = env
	}
	level := opts.Level
	if env := os.Getenv(envLogLevel); strings.TrimSpace(env) != "" {
		level = ParseLevel(env, level)
	}
	logger := slog.New(newHandler(out, level, format)).With("service", defaultPrefix)
	slog.SetDefault(logger)
	return logger, writer, nil
}

// NewLogger writes to stdout and a daily file in logDir.
func NewLogger(logDir string, level slog.Level) (*slog.Logger, *DailyWriter, error) {
	return New(Options{Dir: logDir, Level: level, Console: os.Stdout})
}

// ParseLevel accepts names (debug, info, warn, error) or slog's numeric levels.
func ParseLevel(value string, fallback slog.Level) slog.Level {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "":
		return fallback
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if i, err := strconv.Atoi(value); err == nil {
		return slog.Level(i)
	}
	return fallback
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}
