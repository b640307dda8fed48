package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/metrics"
)

const (
	DefaultBatchSize  = 10
	DefaultFlushDelay = 5 * time.Second
)

var (
	// ErrClosed is reported when Track is called after Close.
	ErrClosed = errors.New("batcher closed")
	// ErrInvalidEvent wraps name and payload validation failures.
	ErrInvalidEvent = errors.New("invalid event")
)

// Sender transmits a batch of payloads. It reports whether every payload
// was accepted by the collector.
type Sender interface {
	Send(ctx context.Context, batch []*event.Payload) bool
}

// DebugSender fires a validation request that never affects the caller.
type DebugSender interface {
	ValidateDetached(p *event.Payload)
}

// ClientIDSource resolves the durable client id.
type ClientIDSource interface {
	GetOrCreateClientID(ctx context.Context) string
}

// SessionIDSource resolves the current session id.
type SessionIDSource interface {
	GetOrCreateSessionID(ctx context.Context) string
}

// PropertySource supplies the user properties attached to every payload.
type PropertySource interface {
	UserProperties(ctx context.Context) map[string]event.UserProperty
}

// TrackOptions tune a single Track call.
type TrackOptions struct {
	// EngagementTimeMsec overrides the table default when in range.
	EngagementTimeMsec int64
	// Validate also sends the payload to the debug channel.
	Validate bool
	// Timestamp overrides the event time. Zero means now.
	Timestamp time.Time
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithBatchSize sets the drain threshold and chunk size.
func WithBatchSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithCapacity sets the queue bound.
func WithCapacity(n int) Option {
	return func(b *Batcher) {
		b.queue = New(n)
	}
}

// WithFlushDelay sets how long a partial batch waits before draining.
func WithFlushDelay(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.flushDelay = d
		}
	}
}

// WithClock sets the clock driving the flush timer and timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *Batcher) {
		b.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) {
		b.logger = l
	}
}

// WithEngagementTable replaces the built-in engagement defaults.
func WithEngagementTable(t *event.EngagementTable) Option {
	return func(b *Batcher) {
		if t != nil {
			b.engagement = t
		}
	}
}

// WithUserProperties attaches user properties to every payload.
func WithUserProperties(p PropertySource) Option {
	return func(b *Batcher) {
		b.properties = p
	}
}

// WithDebug sends every payload to the debug channel as well.
func WithDebug(d DebugSender, always bool) Option {
	return func(b *Batcher) {
		b.debugSender = d
		b.debugAlways = always
	}
}

// WithEnvironmentCheck installs a check run on every Track call; a
// non-nil error makes Track return false.
func WithEnvironmentCheck(check func() error) Option {
	return func(b *Batcher) {
		b.checkEnv = check
	}
}

// Batcher validates and assembles events, queues them and drains the
// queue to a Sender when the batch threshold is hit or the flush timer
// fires.
type Batcher struct {
	sender   Sender
	clients  ClientIDSource
	sessions SessionIDSource

	queue       *Queue
	batchSize   int
	flushDelay  time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	engagement  *event.EngagementTable
	properties  PropertySource
	debugSender DebugSender
	debugAlways bool
	checkEnv    func() error

	mu     sync.Mutex
	timer  *clock.Timer
	closed atomic.Bool

	// drainMu serializes drains so chunks leave in submission order.
	drainMu  sync.Mutex
	inflight sync.WaitGroup
}

// NewBatcher creates a Batcher.
func NewBatcher(sender Sender, clients ClientIDSource, sessions SessionIDSource, opts ...Option) *Batcher {
	b := &Batcher{
		sender:     sender,
		clients:    clients,
		sessions:   sessions,
		queue:      New(DefaultCapacity),
		batchSize:  DefaultBatchSize,
		flushDelay: DefaultFlushDelay,
		clock:      clock.Real(),
		logger:     slog.Default(),
		engagement: event.NewEngagementTable(nil),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "batcher")
	return b
}

// Track validates, assembles and queues one event. It returns false,
// never panics and never returns an error, when the environment is not
// configured, the name is invalid, or the assembled payload fails
// validation.
func (b *Batcher) Track(ctx context.Context, name string, params map[string]any, opts TrackOptions) bool {
	if err := b.environment(); err != nil {
		b.logger.Warn("event not tracked", "event", name, "error", err)
		metrics.RecordTrack(metrics.ResultRejected)
		return false
	}

	p, err := b.Build(ctx, name, params, opts)
	if err != nil {
		b.logger.Warn("event not tracked", "event", name, "error", err)
		metrics.RecordTrack(metrics.ResultInvalid)
		return false
	}

	if !b.enqueue(p) {
		b.logger.Warn("event not tracked", "event", name, "error", ErrClosed)
		metrics.RecordTrack(metrics.ResultRejected)
		return false
	}
	metrics.RecordTrack(metrics.ResultQueued)

	if b.debugSender != nil && (opts.Validate || b.debugAlways) {
		b.debugSender.ValidateDetached(p)
	}
	return true
}

// Build assembles and validates the payload Track would queue, without
// queuing it.
func (b *Batcher) Build(ctx context.Context, name string, params map[string]any, opts TrackOptions) (*event.Payload, error) {
	if !event.IsValidName(name) {
		return nil, fmt.Errorf("%w: name %q", ErrInvalidEvent, name)
	}

	p := b.assemble(ctx, name, params, opts)
	if res := event.ValidatePayload(p); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(res.Messages(), "; "))
	}
	return p, nil
}

func (b *Batcher) environment() error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.checkEnv != nil {
		return b.checkEnv()
	}
	return nil
}

func (b *Batcher) assemble(ctx context.Context, name string, params map[string]any, opts TrackOptions) *event.Payload {
	clean, res := event.SanitizeParams(params)
	for _, w := range res.Warnings {
		b.logger.Debug("parameter dropped", "event", name, "param", w.Field, "reason", w.Message)
	}

	explicit := opts.EngagementTimeMsec
	if explicit == 0 {
		explicit = engagementParam(clean[event.ParamEngagementTime])
	}
	clean[event.ParamEngagementTime] = b.engagement.Resolve(name, explicit)
	clean[event.ParamSessionID] = b.sessions.GetOrCreateSessionID(ctx)

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = b.clock.Now()
	}

	p := &event.Payload{
		ClientID:           b.clients.GetOrCreateClientID(ctx),
		TimestampMicros:    ts.UnixMicro(),
		NonPersonalizedAds: true,
		Events:             []event.Event{{Name: name, Params: clean}},
	}
	if b.properties != nil {
		p.UserProperties = b.properties.UserProperties(ctx)
	}
	return p
}

// engagementParam reads a caller-supplied engagement_time_msec value.
func engagementParam(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(math.Round(float64(n)))
	case float64:
		return int64(math.Round(n))
	}
	return 0
}

// enqueue queues p and schedules its flush. The closed check and the push
// share mu with Close, so nothing is queued after Close has drained.
func (b *Batcher) enqueue(p *event.Payload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return false
	}

	if evicted := b.queue.Push(p); evicted > 0 {
		b.logger.Warn("queue full, dropped oldest events", "evicted", evicted)
		metrics.RecordDelivery(metrics.OutcomeDropped)
	}
	metrics.SetQueueDepth(b.queue.Len())

	if b.queue.Len() >= b.batchSize {
		b.stopTimerLocked()
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.drain(context.Background())
		}()
		return true
	}
	if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.flushDelay, b.onTimer)
	}
	return true
}

func (b *Batcher) onTimer() {
	b.mu.Lock()
	b.timer = nil
	b.mu.Unlock()
	b.drain(context.Background())
}

func (b *Batcher) stopTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// TimerPending reports whether a flush is scheduled.
func (b *Batcher) TimerPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

func (b *Batcher) drain(ctx context.Context) (ok bool) {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("drain panicked", "panic", r)
			ok = false
		}
	}()

	ok = true
	for {
		batch := b.queue.Drain(b.batchSize)
		if len(batch) == 0 {
			return ok
		}
		metrics.SetQueueDepth(b.queue.Len())
		if !b.sender.Send(ctx, batch) {
			ok = false
		}
	}
}

// Flush drains the whole queue now, cancelling any pending timer. It
// reports whether every payload was delivered.
func (b *Batcher) Flush(ctx context.Context) bool {
	b.stopTimer()
	return b.drain(ctx)
}

// ClearQueue discards pending events and cancels the flush timer.
func (b *Batcher) ClearQueue() int {
	b.stopTimer()
	n := b.queue.Clear()
	metrics.SetQueueDepth(0)
	if n > 0 {
		b.logger.Info("cleared pending events", "count", n)
	}
	return n
}

// Len returns the number of pending events.
func (b *Batcher) Len() int {
	return b.queue.Len()
}

// Pending returns a snapshot of the pending payloads.
func (b *Batcher) Pending() []*event.Payload {
	return b.queue.Snapshot()
}

// Close stops accepting events, waits for in-flight drains and flushes
// whatever is left.
func (b *Batcher) Close(ctx context.Context) bool {
	b.mu.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.mu.Unlock()
		return true
	}
	b.stopTimerLocked()
	b.mu.Unlock()

	b.inflight.Wait()
	return b.drain(ctx)
}
