package incident

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/pkg/clock"
)

// Hooks observe escalation outcomes. Nil fields are skipped.
type Hooks struct {
	// OnIncident runs after an incident is persisted.
	OnIncident func(Incident)
	// OnAlert runs after each delivery attempt. err is nil on success and
	// matches ErrAlertDropped when the alert never reached the alerter.
	OnAlert func(inc Incident, err error)
}

// EscalatorStats is a snapshot of escalator counters.
type EscalatorStats struct {
	Escalated     int64
	Alerted       int64
	AlertFailures int64
	Dropped       int64
	Queued        int
	IsRunning     bool
}

// Escalator records critical log entries as incidents and alerts an
// administrator asynchronously. It implements logger.Escalator.
type Escalator struct {
	store   Store
	alerter Alerter
	ids     *idSource

	queue           chan Incident
	limiter         *rate.Limiter
	sendTimeout     time.Duration
	shutdownTimeout time.Duration
	clock           clock.Clock
	logger          *slog.Logger
	hooks           Hooks

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	escalated     atomic.Int64
	alerted       atomic.Int64
	alertFailures atomic.Int64
	dropped       atomic.Int64
}

var _ logger.Escalator = (*Escalator)(nil)

// Option configures an Escalator.
type Option func(*Escalator)

// WithQueueSize bounds the number of alerts waiting for delivery.
func WithQueueSize(n int) Option {
	return func(e *Escalator) {
		if n > 0 {
			e.queue = make(chan Incident, n)
		}
	}
}

// WithSendTimeout bounds each alert delivery.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Escalator) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for queued alerts.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Escalator) {
		if d > 0 {
			e.shutdownTimeout = d
		}
	}
}

// WithAlertRate allows one alert per interval with the given burst.
// A zero interval disables throttling.
func WithAlertRate(interval time.Duration, burst int) Option {
	return func(e *Escalator) {
		if burst < 1 {
			burst = 1
		}
		limit := rate.Inf
		if interval > 0 {
			limit = rate.Every(interval)
		}
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithClock(c clock.Clock) Option {
	return func(e *Escalator) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the diagnostics logger. Do not pass a logger that writes
// into the secure log at CRITICAL or above.
func WithLogger(l *slog.Logger) Option {
	return func(e *Escalator) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(e *Escalator) {
		e.hooks = h
	}
}

// NewEscalator creates an escalator. A nil alerter records incidents without
// alerting. Call Start (or Run) to deliver alerts.
func NewEscalator(store Store, alerter Alerter, opts ...Option) *Escalator {
	e := &Escalator{
		store:           store,
		alerter:         alerter,
		ids:             newIDSource(),
		queue:           make(chan Incident, 100),
		limiter:         rate.NewLimiter(rate.Every(6*time.Second), 5),
		sendTimeout:     10 * time.Second,
		shutdownTimeout: 30 * time.Second,
		clock:           clock.System,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Escalate persists entry as an open incident and queues an alert for it.
// Only a failure to persist is returned; a full queue drops the alert.
func (e *Escalator) Escalate(ctx context.Context, entry logger.Entry) error {
	now := e.clock.Now()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = now
	}

	inc := Incident{
		ID:        e.ids.next(now),
		Timestamp: ts,
		Message:   entry.Message,
		Context:   maps.Clone(entry.Context),
		Status:    StatusOpen,
		Severity:  entry.Level.String(),
		Channel:   entry.Channel,
		RequestID: entry.Extra.RequestID,
	}

	if err := e.store.Save(ctx, inc); err != nil {
		return err
	}
	e.escalated.Add(1)
	if e.hooks.OnIncident != nil {
		e.hooks.OnIncident(inc)
	}

	if e.alerter == nil {
		return nil
	}

	select {
	case e.queue <- inc:
	default:
		e.dropped.Add(1)
		e.logger.WarnContext(ctx, "incident alert dropped",
			slog.String("incident_id", inc.ID),
			slog.Int("queue_size", cap(e.queue)))
		if e.hooks.OnAlert != nil {
			e.hooks.OnAlert(inc, fmt.Errorf("%w: queue full", ErrAlertDropped))
		}
	}
	return nil
}

// Get returns one incident.
func (e *Escalator) Get(ctx context.Context, id string) (Incident, error) {
	return e.store.Get(ctx, id)
}

// List returns incidents matching f, newest first.
func (e *Escalator) List(ctx context.Context, f Filter) ([]Incident, error) {
	return e.store.List(ctx, f)
}

// Close marks an incident closed. Closing a closed incident is a no-op.
func (e *Escalator) Close(ctx context.Context, id string) (Incident, error) {
	inc, err := e.store.Get(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if !inc.IsOpen() {
		return inc, nil
	}

	now := e.clock.Now()
	inc.Status = StatusClosed
	inc.ClosedAt = &now
	if err := e.store.Save(ctx, inc); err != nil {
		return Incident{}, err
	}
	return inc, nil
}

// Start delivers queued alerts until ctx is cancelled or Stop is called, then
// drains what is left within the shutdown timeout. It blocks; use Run with
// errgroup or call it in a goroutine.
func (e *Escalator) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.mu.Unlock()

	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.mu.Lock()
		if e.done == done {
			e.cancel = nil
		}
		e.mu.Unlock()
		cancel()
		close(done)
	}()

	e.logger.InfoContext(runCtx, "incident alert dispatcher started")

	for {
		select {
		case <-runCtx.Done():
			e.drain()
			return runCtx.Err()
		case inc := <-e.queue:
			if err := e.dispatch(runCtx, inc); err != nil {
				// Cancelled while throttled; inc is delivered by the drain.
				e.drain(inc)
				return runCtx.Err()
			}
		}
	}
}

// Stop cancels the dispatcher and waits for it to finish draining.
func (e *Escalator) Stop() error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	cancel()

	timer := time.NewTimer(e.shutdownTimeout + e.sendTimeout)
	defer timer.Stop()

	select {
	case <-done:
		e.logger.Info("incident alert dispatcher stopped")
		return nil
	case <-timer.C:
		e.logger.Warn("incident alert dispatcher shutdown timeout exceeded",
			slog.Duration("timeout", e.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", e.shutdownTimeout)
	}
}

// Run returns an errgroup-compatible function that runs the dispatcher until
// ctx is cancelled.
func (e *Escalator) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- e.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = e.Stop()
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

// Stats returns a snapshot of the escalator counters.
func (e *Escalator) Stats() EscalatorStats {
	return EscalatorStats{
		Escalated:     e.escalated.Load(),
		Alerted:       e.alerted.Load(),
		AlertFailures: e.alertFailures.Load(),
		Dropped:       e.dropped.Load(),
		Queued:        len(e.queue),
		IsRunning:     e.running.Load(),
	}
}

// dispatch waits for the throttle and sends one alert. It returns an error
// only when ctx ends before the throttle admits the alert.
func (e *Escalator) dispatch(ctx context.Context, inc Incident) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sendTimeout)
	defer cancel()

	err := e.send(sendCtx, inc)
	if err != nil {
		e.alertFailures.Add(1)
		e.logger.ErrorContext(ctx, "incident alert delivery failed",
			slog.String("incident_id", inc.ID),
			logger.Error(err))
	} else {
		e.alerted.Add(1)
		e.logger.DebugContext(ctx, "incident alert delivered", slog.String("incident_id", inc.ID))
	}
	if e.hooks.OnAlert != nil {
		e.hooks.OnAlert(inc, err)
	}
	return nil
}

func (e *Escalator) send(ctx context.Context, inc Incident) error {
	subject, body, err := FormatAlert(inc)
	if err != nil {
		return err
	}
	return e.alerter.SendAlert(ctx, subject, body)
}

// drain delivers pending and then whatever is still queued, within the
// shutdown timeout. Alerts the throttle cannot admit in time are dropped.
func (e *Escalator) drain(pending ...Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()

	for {
		var inc Incident
		if len(pending) > 0 {
			inc, pending = pending[0], pending[1:]
		} else {
			select {
			case inc = <-e.queue:
			default:
				return
			}
		}

		if err := e.dispatch(ctx, inc); err != nil {
			e.dropped.Add(1)
			e.logger.Warn("incident alert dropped at shutdown",
				slog.String("incident_id", inc.ID),
				logger.Error(err))
			if e.hooks.OnAlert != nil {
				e.hooks.OnAlert(inc, errors.Join(ErrAlertDropped, err))
			}
		}
	}
}
