package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a log severity. Levels are totally ordered from LevelDebug to LevelEmergency.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
	LevelCritical
	LevelAlert
	LevelEmergency
)

var levelNames = [...]string{
	LevelDebug:     "DEBUG",
	LevelInfo:      "INFO",
	LevelNotice:    "NOTICE",
	LevelWarning:   "WARNING",
	LevelError:     "ERROR",
	LevelCritical:  "CRITICAL",
	LevelAlert:     "ALERT",
	LevelEmergency: "EMERGENCY",
}

// slog equivalents of the levels slog does not define.
const (
	SlogNotice    = slog.Level(2)
	SlogCritical  = slog.Level(12)
	SlogAlert     = slog.Level(16)
	SlogEmergency = slog.Level(20)
)

func (l Level) String() string {
	if l < LevelDebug || l > LevelEmergency {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses a level name, case-insensitively. "WARN" is accepted for LevelWarning.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARN" {
		return LevelWarning, nil
	}
	for l, n := range levelNames {
		if n == name {
			return Level(l), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// MarshalText encodes the level name. JSON output uses it too.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name. Environment parsing uses it too.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Slog returns the slog level for l.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelNotice:
		return SlogNotice
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return SlogCritical
	case LevelAlert:
		return SlogAlert
	default:
		return SlogEmergency
	}
}

// FromSlog maps a slog level onto the nearest level at or below it.
func FromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < SlogNotice:
		return LevelInfo
	case l < slog.LevelWarn:
		return LevelNotice
	case l < slog.LevelError:
		return LevelWarning
	case l < SlogCritical:
		return LevelError
	case l < SlogAlert:
		return LevelCritical
	case l < SlogEmergency:
		return LevelAlert
	default:
		return LevelEmergency
	}
}
