// Package logging is the structured logging layer shared by the CLI, the TUI
// and the daemon. Loggers are obtained per component and write key/value
// records through charmbracelet/log to a rotating file, optionally to stderr,
// and to in-process subscribers.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//		return err
//	}
//	defer logging.Close()
//
//	logging.Get("planner").Info("manifest ready", "fetch", 3, "evict", 1)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a logging severity.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. "warning" is accepted as "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
}

// Config configures Init.
type Config struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// File is the log file path. Empty means DefaultLogPath().
	File string `mapstructure:"file" yaml:"file" json:"file"`

	// Console enables stderr output at the given level. Empty disables it.
	Console string `mapstructure:"console" yaml:"console" json:"console"`

	// JSON switches the file output to one JSON object per line.
	JSON bool `mapstructure:"json" yaml:"json" json:"json"`

	// Components overrides the level per component name.
	Components map[string]string `mapstructure:"components" yaml:"components,omitempty" json:"components,omitempty"`

	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`

	// Buffer keeps the most recent entries in memory for the TUI.
	Buffer bool `mapstructure:"-" yaml:"-" json:"-"`
}

// Entry is a log record delivered to subscribers and the ring buffer.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
	Fields    []any
}

// Logger writes records for one component.
type Logger struct {
	component string
	file      *log.Logger
	console   *log.Logger
	fields    []any
}

func (l *Logger) Debug(msg string, kv ...any) { l.emit(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.emit(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.emit(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.emit(LevelError, msg, kv) }

// With returns a child logger that adds kv to every record.
func (l *Logger) With(kv ...any) *Logger {
	child := &Logger{
		component: l.component,
		file:      l.file.With(kv...),
		fields:    append(append([]any(nil), l.fields...), kv...),
	}
	if l.console != nil {
		child.console = l.console.With(kv...)
	}
	return child
}

func (l *Logger) emit(level Level, msg string, kv []any) {
	write(l.file, level, msg, kv)
	if l.console != nil {
		write(l.console, level, msg, kv)
	}
	reg.publish(Entry{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    append(append([]any(nil), l.fields...), kv...),
	})
}

func write(dst *log.Logger, level Level, msg string, kv []any) {
	switch level {
	case LevelDebug:
		dst.Debug(msg, kv...)
	case LevelInfo:
		dst.Info(msg, kv...)
	case LevelWarn:
		dst.Warn(msg, kv...)
	case LevelError:
		dst.Error(msg, kv...)
	}
}

type registry struct {
	mu          sync.RWMutex
	ready       bool
	cfg         Config
	level       Level
	components  map[string]Level
	console     *Level
	out         *RotatingWriter
	loggers     map[string]*Logger
	subscribers map[chan Entry]struct{}
	buffer      *Buffer
}

var reg = &registry{
	loggers:     make(map[string]*Logger),
	components:  make(map[string]Level),
	subscribers: make(map[chan Entry]struct{}),
}

// Init configures the package. Loggers obtained before Init are rebuilt so
// that they write to the new destinations. Until Init runs, output is dropped.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	components := make(map[string]Level, len(cfg.Components))
	for name, s := range cfg.Components {
		lvl, err := ParseLevel(s)
		if err != nil {
			return fmt.Errorf("component %s: %w", name, err)
		}
		components[name] = lvl
	}
	var console *Level
	if cfg.Console != "" {
		lvl, err := ParseLevel(cfg.Console)
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		console = &lvl
	}

	path := cfg.File
	if path == "" {
		path = DefaultLogPath()
	}
	out, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.out != nil {
		_ = reg.out.Close()
	}
	reg.cfg = cfg
	reg.level = level
	reg.components = components
	reg.console = console
	reg.out = out
	reg.ready = true
	reg.buffer = nil
	if cfg.Buffer {
		reg.buffer = NewBuffer(DefaultBufferSize)
	}
	for name := range reg.loggers {
		reg.loggers[name] = reg.build(name)
	}
	return nil
}

// Get returns the logger for component, creating it on first use.
func Get(component string) *Logger {
	reg.mu.RLock()
	l, ok := reg.loggers[component]
	reg.mu.RUnlock()
	if ok {
		return l
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if l, ok := reg.loggers[component]; ok {
		return l
	}
	l = reg.build(component)
	reg.loggers[component] = l
	return l
}

// build must be called with reg.mu held.
func (r *registry) build(component string) *Logger {
	level := r.level
	if lvl, ok := r.components[component]; ok {
		level = lvl
	}

	if !r.ready {
		return &Logger{
			component: component,
			file:      log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component}),
		}
	}

	file := log.NewWithOptions(r.out, log.Options{
		Level:           level.charm(),
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          component,
	})
	if r.cfg.JSON {
		file.SetFormatter(log.JSONFormatter)
	}

	l := &Logger{component: component, file: file}
	if r.console != nil {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.console.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Prefix:          component,
		})
	}
	return l
}

func (r *registry) publish(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.buffer != nil {
		r.buffer.Add(e)
	}
	for ch := range r.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close flushes the log file and closes subscriber channels.
func Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for ch := range reg.subscribers {
		close(ch)
		delete(reg.subscribers, ch)
	}
	reg.ready = false
	reg.loggers = make(map[string]*Logger)
	if reg.out == nil {
		return nil
	}
	err := reg.out.Close()
	reg.out = nil
	return err
}

// Subscribe returns a buffered channel receiving every record. Records are
// dropped for subscribers that fall behind.
func Subscribe() <-chan Entry {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ch := make(chan Entry, 128)
	reg.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch.
func Unsubscribe(ch <-chan Entry) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for sub := range reg.subscribers {
		if sub == ch {
			delete(reg.subscribers, sub)
			return
		}
	}
}

// RecentEntries returns up to n buffered records, oldest first. It returns
// nil unless Init was called with Buffer set.
func RecentEntries(n int) []Entry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.buffer == nil {
		return nil
	}
	return reg.buffer.Last(n)
}

// DefaultLogPath is $XDG_STATE_HOME/dpsync/dpsync.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "dpsync", "dpsync.log")
}
