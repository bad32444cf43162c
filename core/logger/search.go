package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Query filters a search. The zero Query matches everything.
type Query struct {
	// Text matches case-insensitively against the message and the JSON context.
	Text string
	// MinLevel drops entries below it.
	MinLevel Level
	// Since and Until bound the timestamp, inclusive. Zero means unbounded.
	Since time.Time
	Until time.Time
	// Limit caps the number of results (0 = no limit).
	Limit int
}

func (q Query) match(e Entry) bool {
	if e.Level < q.MinLevel {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	if q.Text == "" {
		return true
	}

	needle := strings.ToLower(q.Text)
	if strings.Contains(strings.ToLower(e.Message), needle) {
		return true
	}
	if len(e.Context) == 0 {
		return false
	}
	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(ctxJSON)), needle)
}

// logFile is one active or rotated file of a channel.
type logFile struct {
	Path string
	Day  string
	Slot int
	Size int64
}

// channelFiles lists the files of channel, newest first: by day descending,
// then active file before .1, .2 and so on.
func channelFiles(dir, channel string) ([]logFile, error) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(channel) + `-(\d{4}-\d{2}-\d{2})\.log(?:\.(\d+))?$`)

	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	var files []logFile
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		lf := logFile{Path: filepath.Join(dir, de.Name()), Day: m[1]}
		if m[2] != "" {
			lf.Slot, _ = strconv.Atoi(m[2])
		}
		if info, err := de.Info(); err == nil {
			lf.Size = info.Size()
		}
		files = append(files, lf)
	}

	slices.SortFunc(files, func(a, b logFile) int {
		if c := strings.Compare(b.Day, a.Day); c != 0 {
			return c
		}
		return a.Slot - b.Slot
	})
	return files, nil
}

// Search scans the active and rotated files of channel and returns matching
// entries newest first. It takes no locks; a file rotated away mid-scan is
// skipped and a partially written last line is ignored.
func (l *Logger) Search(ctx context.Context, channel string, q Query) ([]Entry, error) {
	if channel == "" {
		channel = l.channel
	}
	files, err := channelFiles(l.core.dir, channel)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, lf := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := scanFile(lf.Path, func(e Entry) {
			if q.match(e) {
				out = append(out, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortStableFunc(out, func(a, b Entry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func scanFile(path string, fn func(Entry)) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}
