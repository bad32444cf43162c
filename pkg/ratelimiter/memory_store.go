package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/guard/pkg/clock"
)

// staleThreshold is how long a key may go without requests before the sweep evicts it.
const staleThreshold = time.Hour

// window holds the admitted request timestamps of one key in ascending order.
type window struct {
	hits       []time.Time
	lastAccess time.Time // Used by cleanup to identify stale windows
}

// MemoryStore implements Store using in-memory storage.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]*window

	// Configuration
	cleanupInterval time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	clock           clock.Clock

	// State management
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	windowsCreated atomic.Int64
	windowsRemoved atomic.Int64
}

// MemoryStoreStats provides observability metrics for monitoring and debugging
type MemoryStoreStats struct {
	WindowsCreated int64 // Total number of windows created
	WindowsRemoved int64 // Total number of stale windows removed
	ActiveWindows  int   // Current number of tracked keys
	IsRunning      bool  // Whether the cleanup goroutine is running
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets the cleanup interval for removing stale windows.
// Set to 0 to disable automatic cleanup.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// WithMemoryStoreShutdownTimeout sets the graceful shutdown timeout.
func WithMemoryStoreShutdownTimeout(timeout time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if timeout > 0 {
			ms.shutdownTimeout = timeout
		}
	}
}

// WithMemoryStoreLogger sets the logger for internal operations.
func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// WithMemoryStoreClock sets the time source used by the stale sweep.
func WithMemoryStoreClock(c clock.Clock) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if c != nil {
			ms.clock = c
		}
	}
}

// NewMemoryStore creates a new in-memory store.
// Call Start() to begin background cleanup.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		windows:         make(map[string]*window),
		cleanupInterval: 5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:           clock.System,
	}

	for _, opt := range opts {
		opt(ms)
	}

	return ms
}

// Hit prunes, checks and records under the store lock.
func (ms *MemoryStore) Hit(ctx context.Context, key string, now time.Time, limit Limit) (Window, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w, exists := ms.windows[key]
	if !exists {
		w = &window{hits: make([]time.Time, 0, limit.MaxRequests)}
		ms.windows[key] = w
		ms.windowsCreated.Add(1)
	}
	w.lastAccess = now

	// Timestamps are appended in call order; the first index inside the window
	// splits expired from live entries.
	cutoff := now.Add(-limit.Window)
	i := sort.Search(len(w.hits), func(i int) bool { return !w.hits[i].Before(cutoff) })
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}

	admitted := len(w.hits) < limit.MaxRequests
	if admitted {
		w.hits = append(w.hits, now)
	}

	res := Window{Count: len(w.hits), Admitted: admitted}
	if len(w.hits) > 0 {
		res.Oldest = w.hits[0]
	}
	return res, nil
}

// Reset removes all state for key.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.windows, key)
	return nil
}

// Start begins the background cleanup goroutine. This is a blocking operation
// that runs until the context is cancelled. Use Run() for errgroup pattern or call this in a goroutine.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return ErrAlreadyStarted
	}

	if ms.cleanupInterval <= 0 {
		ms.mu.Unlock()
		return fmt.Errorf("%w, got %v (use WithCleanupInterval to configure)", ErrCleanupDisabled, ms.cleanupInterval)
	}

	ms.ctx, ms.cancel = context.WithCancel(ctx)
	runCtx := ms.ctx
	ms.mu.Unlock()

	ms.running.Store(true)
	defer ms.running.Store(false)

	ms.logger.InfoContext(runCtx, "rate limit store cleanup started",
		slog.Duration("cleanup_interval", ms.cleanupInterval))

	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			ms.logger.InfoContext(context.Background(), "rate limit store cleanup stopping")
			return runCtx.Err()
		case <-ticker.C:
			ms.cleanupWithWait()
		}
	}
}

// Stop gracefully shuts down the background cleanup with a timeout.
// Returns an error if the shutdown timeout is exceeded.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return ErrNotStarted
	}

	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), ms.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		ms.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ms.logger.InfoContext(context.Background(), "rate limit store stopped cleanly")
		return nil
	case <-ctx.Done():
		ms.logger.WarnContext(context.Background(), "rate limit store shutdown timeout exceeded",
			slog.Duration("timeout", ms.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", ms.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the cleanup, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- ms.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = ms.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// cleanupWithWait tracks an in-progress sweep so Stop can wait for it.
func (ms *MemoryStore) cleanupWithWait() {
	ms.mu.RLock()
	if ms.cancel == nil {
		ms.mu.RUnlock()
		return
	}
	ms.wg.Add(1)
	ms.mu.RUnlock()

	defer ms.wg.Done()
	ms.RemoveStale()
}

// RemoveStale evicts keys that have seen no requests for an hour and returns the
// number removed. Called by the background sweep; exported for manual housekeeping.
func (ms *MemoryStore) RemoveStale() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock.Now()

	removed := 0
	for key, w := range ms.windows {
		if now.Sub(w.lastAccess) > staleThreshold {
			delete(ms.windows, key)
			removed++
		}
	}

	if removed > 0 {
		ms.windowsRemoved.Add(int64(removed))
		ms.logger.Debug("rate limit store removed stale windows",
			slog.Int("removed", removed),
			slog.Int("remaining", len(ms.windows)))
	}
	return removed
}

// Stats returns current memory store statistics for observability and monitoring.
func (ms *MemoryStore) Stats() MemoryStoreStats {
	ms.mu.RLock()
	isRunning := ms.cancel != nil
	active := len(ms.windows)
	ms.mu.RUnlock()

	return MemoryStoreStats{
		WindowsCreated: ms.windowsCreated.Load(),
		WindowsRemoved: ms.windowsRemoved.Load(),
		ActiveWindows:  active,
		IsRunning:      isRunning,
	}
}

// Healthcheck validates that the memory store is operational.
func (ms *MemoryStore) Healthcheck(ctx context.Context) error {
	if ms.cleanupInterval > 0 && !ms.Stats().IsRunning {
		return fmt.Errorf("cleanup is configured but not running")
	}
	return nil
}
