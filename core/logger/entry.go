package logger

import (
	"context"
	"runtime/metrics"
	"time"

	"github.com/dmitrymomot/guard/core/requestctx"
)

// Entry is one structured log record. Entries are immutable once written.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Channel   string         `json:"channel"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Extra     Extra          `json:"extra"`
}

// Extra carries correlation and request metadata.
type Extra struct {
	ProcessID   int    `json:"process_id"`
	RequestID   string `json:"request_id,omitempty"`
	ClientIP    string `json:"client_ip,omitempty"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	MemoryUsage uint64 `json:"memory_usage,omitempty"`
}

func extraFromContext(ctx context.Context, pid int) Extra {
	extra := Extra{ProcessID: pid, MemoryUsage: heapBytes()}
	if meta, ok := requestctx.FromContext(ctx); ok {
		extra.RequestID = meta.RequestID
		extra.ClientIP = meta.ClientIP
		extra.Method = meta.Method
		extra.Path = meta.Path
		extra.UserAgent = meta.UserAgent
		extra.UserID = meta.UserID
	}
	return extra
}

const heapMetric = "/memory/classes/heap/objects:bytes"

// heapBytes reads live heap usage without stopping the world.
func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
