package logger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrymomot/guard/pkg/clock"
)

const (
	dirMode  = 0o750
	fileMode = 0o640
	dayFmt   = "2006-01-02"
)

// rotatingFile appends records to {dir}/{channel}-{day}.log. When the file
// grows past maxSize it is shifted into numbered slots .1 … .maxFiles and a
// fresh file is opened. Appends and rotation share one mutex, so a record is
// always written whole into exactly one file.
type rotatingFile struct {
	mu       sync.Mutex
	dir      string
	channel  string
	maxSize  int64
	maxFiles int
	clock    clock.Clock

	f    *os.File
	path string
	size int64
}

func newRotatingFile(dir, channel string, maxSize int64, maxFiles int, clk clock.Clock) *rotatingFile {
	return &rotatingFile{
		dir:      dir,
		channel:  channel,
		maxSize:  maxSize,
		maxFiles: maxFiles,
		clock:    clk,
	}
}

// Write appends p and rotates if the file is now larger than maxSize.
// err reports a failed append; p is then not in the file. rotateErr reports
// a failed rotation after a successful append, and the next Write retries it.
func (rf *rotatingFile) Write(p []byte) (rotated bool, rotateErr, err error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if err := rf.openLocked(rf.clock.Now()); err != nil {
		return false, nil, err
	}

	n, err := rf.f.Write(p)
	rf.size += int64(n)
	if err != nil {
		return false, nil, fmt.Errorf("append %s: %w", rf.path, err)
	}

	if rf.maxSize > 0 && rf.size > rf.maxSize {
		if err := rf.rotateLocked(); err != nil {
			return false, err, nil
		}
		return true, nil, nil
	}
	return false, nil, nil
}

// Close closes the active file.
func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}

// openLocked ensures the file for the current day is open.
func (rf *rotatingFile) openLocked(now time.Time) error {
	path := filepath.Join(rf.dir, fmt.Sprintf("%s-%s.log", rf.channel, now.Format(dayFmt)))
	if rf.f != nil && rf.path == path {
		return nil
	}
	if rf.f != nil {
		_ = rf.f.Close()
		rf.f = nil
	}

	if err := os.MkdirAll(rf.dir, dirMode); err != nil {
		return errors.Join(ErrCreateDir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}

	rf.f = f
	rf.path = path
	rf.size = info.Size()
	return nil
}

// rotateLocked shifts .i to .i+1 from the oldest slot down, deletes whatever
// would land beyond maxFiles, moves the active file to .1 and reopens it.
func (rf *rotatingFile) rotateLocked() error {
	if err := rf.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rf.path, err)
	}
	rf.f = nil

	if err := removeIfExists(slot(rf.path, rf.maxFiles)); err != nil {
		return err
	}
	for i := rf.maxFiles - 1; i >= 1; i-- {
		if err := renameIfExists(slot(rf.path, i), slot(rf.path, i+1)); err != nil {
			return err
		}
	}
	if rf.maxFiles >= 1 {
		if err := os.Rename(rf.path, slot(rf.path, 1)); err != nil {
			return fmt.Errorf("rotate %s: %w", rf.path, err)
		}
	} else if err := os.Remove(rf.path); err != nil {
		return fmt.Errorf("truncate %s: %w", rf.path, err)
	}

	rf.path = ""
	return rf.openLocked(rf.clock.Now())
}

func slot(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func renameIfExists(from, to string) error {
	if err := os.Rename(from, to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rename %s: %w", from, err)
	}
	return nil
}
