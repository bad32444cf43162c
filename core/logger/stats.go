package logger

import (
	"cmp"
	"context"
	"path/filepath"
	"slices"
	"time"
)

// Stats aggregates a channel over a trailing window of days.
type Stats struct {
	Channel   string         `json:"channel"`
	Since     time.Time      `json:"since"`
	Total     int            `json:"total"`
	ByLevel   map[string]int `json:"by_level"`
	ByDay     map[string]int `json:"by_day"`
	TopErrors []MessageCount `json:"top_errors"`
	Files     []FileSize     `json:"files"`
}

// MessageCount is how often a message was logged at LevelError or above.
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// FileSize is the size of one log file.
type FileSize struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Stats counts entries of channel written in the last windowDays days by level
// and by day, and returns the topK most frequent error messages and the size
// of every file of the channel.
func (l *Logger) Stats(ctx context.Context, channel string, windowDays, topK int) (Stats, error) {
	if channel == "" {
		channel = l.channel
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	if topK <= 0 {
		topK = 10
	}

	now := l.core.clock.Now()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -(windowDays - 1))

	entries, err := l.Search(ctx, channel, Query{Since: since})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Channel: channel,
		Since:   since,
		Total:   len(entries),
		ByLevel: make(map[string]int),
		ByDay:   make(map[string]int),
	}

	errorCounts := make(map[string]int)
	for _, e := range entries {
		st.ByLevel[e.Level.String()]++
		st.ByDay[e.Timestamp.Format(dayFmt)]++
		if e.Level >= LevelError {
			errorCounts[e.Message]++
		}
	}

	for msg, n := range errorCounts {
		st.TopErrors = append(st.TopErrors, MessageCount{Message: msg, Count: n})
	}
	slices.SortFunc(st.TopErrors, func(a, b MessageCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Message, b.Message)
	})
	if len(st.TopErrors) > topK {
		st.TopErrors = st.TopErrors[:topK]
	}

	files, err := channelFiles(l.core.dir, channel)
	if err != nil {
		return Stats{}, err
	}
	for _, f := range files {
		st.Files = append(st.Files, FileSize{Name: filepath.Base(f.Path), Size: f.Size})
	}
	return st, nil
}
