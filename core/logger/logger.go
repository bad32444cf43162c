package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"github.com/dmitrymomot/guard/pkg/clock"
)

// SystemChannel receives the logger's own failures, such as escalation errors.
const SystemChannel = "system"

var channelPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.]*$`)

// Escalator receives entries at LevelCritical and above after they are written.
type Escalator interface {
	Escalate(ctx context.Context, e Entry) error
}

// Logger writes leveled JSON-lines records into per-channel rotating files.
// Loggers returned by Channel share files, configuration and escalator.
type Logger struct {
	core    *core
	channel string
}

type core struct {
	dir         string
	minLevel    Level
	maxFileSize int64
	maxFiles    int
	clock       clock.Clock
	pid         int

	filesMu sync.Mutex
	files   map[string]*rotatingFile

	fallbackMu sync.Mutex
	fallback   io.Writer

	escMu     sync.RWMutex
	escalator Escalator

	diag    *slog.Logger
	onWrite func(Entry, bool)
}

// Option configures a Logger.
type Option func(*core)

// WithMinLevel drops entries below l.
func WithMinLevel(l Level) Option {
	return func(c *core) { c.minLevel = l }
}

// WithMaxFileSize sets the size in bytes that triggers rotation.
func WithMaxFileSize(n int64) Option {
	return func(c *core) {
		if n > 0 {
			c.maxFileSize = n
		}
	}
}

// WithMaxFiles sets how many rotated files are kept per channel and day.
func WithMaxFiles(n int) Option {
	return func(c *core) {
		if n >= 0 {
			c.maxFiles = n
		}
	}
}

// WithClock sets the time source for timestamps and file names.
func WithClock(clk clock.Clock) Option {
	return func(c *core) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithFallback sets where records go when the log file cannot be written.
// Defaults to stderr.
func WithFallback(w io.Writer) Option {
	return func(c *core) {
		if w != nil {
			c.fallback = w
		}
	}
}

// WithDiagnostics sets the slog logger used for the logger's own warnings.
func WithDiagnostics(l *slog.Logger) Option {
	return func(c *core) {
		if l != nil {
			c.diag = l
		}
	}
}

// WithEscalator sets the escalator for critical entries.
func WithEscalator(e Escalator) Option {
	return func(c *core) { c.escalator = e }
}

// WithWriteHook registers fn to observe every entry after it is stored.
// The flag reports whether the write triggered a rotation.
func WithWriteHook(fn func(e Entry, rotated bool)) Option {
	return func(c *core) { c.onWrite = fn }
}

// New creates a logger writing channel files into dir. The directory is
// created on first write with mode 0750.
func New(dir, channel string, opts ...Option) (*Logger, error) {
	if !channelPattern.MatchString(channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	c := &core{
		dir:         dir,
		minLevel:    LevelInfo,
		maxFileSize: 10 << 20,
		maxFiles:    5,
		clock:       clock.System,
		pid:         os.Getpid(),
		files:       make(map[string]*rotatingFile),
		fallback:    os.Stderr,
		diag:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}

	return &Logger{core: c, channel: channel}, nil
}

// NewFromConfig creates a logger from cfg.
func NewFromConfig(cfg Config, opts ...Option) (*Logger, error) {
	base := []Option{
		WithMinLevel(cfg.MinLevel),
		WithMaxFileSize(cfg.MaxFileSize),
		WithMaxFiles(cfg.MaxFiles),
	}
	return New(cfg.Dir, cfg.Channel, append(base, opts...)...)
}

// Channel returns a logger writing to another channel. Invalid names fall back
// to the current channel.
func (l *Logger) Channel(name string) *Logger {
	if !channelPattern.MatchString(name) {
		return l
	}
	return &Logger{core: l.core, channel: name}
}

// Name returns the channel this logger writes to.
func (l *Logger) Name() string {
	return l.channel
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.core.dir
}

// SetEscalator replaces the escalator. Use it when the escalator itself
// needs the logger to be constructed first.
func (l *Logger) SetEscalator(e Escalator) {
	l.core.escMu.Lock()
	l.core.escalator = e
	l.core.escMu.Unlock()
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.core.minLevel
}

// Log writes an entry. It never fails: storage errors divert the record to
// the fallback writer, and escalation errors are recorded on the system
// channel at LevelError.
func (l *Logger) Log(ctx context.Context, level Level, msg string, fields map[string]any) {
	if !l.Enabled(level) {
		return
	}

	e := Entry{
		Timestamp: l.core.clock.Now(),
		Level:     level,
		Channel:   l.channel,
		Message:   msg,
		Context:   fields,
		Extra:     extraFromContext(ctx, l.core.pid),
	}
	l.core.write(ctx, e)

	if level < LevelCritical {
		return
	}

	l.core.escMu.RLock()
	esc := l.core.escalator
	l.core.escMu.RUnlock()
	if esc == nil {
		return
	}

	if err := esc.Escalate(ctx, e); err != nil {
		l.core.write(ctx, Entry{
			Timestamp: l.core.clock.Now(),
			Level:     LevelError,
			Channel:   SystemChannel,
			Message:   "incident escalation failed",
			Context: map[string]any{
				"error":            err.Error(),
				"original_channel": e.Channel,
				"original_message": e.Message,
			},
			Extra: e.Extra,
		})
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelDebug, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelInfo, msg, fields)
}

func (l *Logger) Notice(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelNotice, msg, fields)
}

func (l *Logger) Warning(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelWarning, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelError, msg, fields)
}

func (l *Logger) Critical(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelCritical, msg, fields)
}

func (l *Logger) Alert(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelAlert, msg, fields)
}

func (l *Logger) Emergency(ctx context.Context, msg string, fields map[string]any) {
	l.Log(ctx, LevelEmergency, msg, fields)
}

// Close closes all open log files.
func (l *Logger) Close() error {
	l.core.filesMu.Lock()
	defer l.core.filesMu.Unlock()

	var firstErr error
	for _, f := range l.core.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *core) write(ctx context.Context, e Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		// Context values that cannot be encoded are replaced, not dropped.
		e.Context = map[string]any{"encode_error": err.Error()}
		line, _ = json.Marshal(e)
	}
	line = append(line, '\n')

	rotated, rotateErr, err := c.file(e.Channel).Write(line)
	if err != nil {
		c.fallbackMu.Lock()
		_, _ = c.fallback.Write(line)
		c.fallbackMu.Unlock()

		c.diag.WarnContext(ctx, "log write failed, record sent to fallback",
			slog.String("channel", e.Channel),
			Error(err))
		return
	}

	if rotateErr != nil {
		c.diag.WarnContext(ctx, "log rotation failed",
			slog.String("channel", e.Channel),
			Error(rotateErr))
	}
	if rotated {
		c.diag.DebugContext(ctx, "log file rotated", slog.String("channel", e.Channel))
	}
	if c.onWrite != nil {
		c.onWrite(e, rotated)
	}
}

func (c *core) file(channel string) *rotatingFile {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()

	f, ok := c.files[channel]
	if !ok {
		f = newRotatingFile(c.dir, channel, c.maxFileSize, c.maxFiles, c.clock)
		c.files[channel] = f
	}
	return f
}
