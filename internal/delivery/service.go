package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/metrics"
)

const (
	DefaultBatchSize       = 10
	DefaultMaxRetries      = 3
	DefaultRetryBaseDelay  = time.Second
	DefaultHoldingMaxAge   = 24 * time.Hour
	DefaultReplayInterval  = 100 * time.Millisecond
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second

	maxRetryInterval = 10 * time.Minute
)

// Option configures a Service.
type Option func(*Service)

// WithBatchSize sets how many payloads are sent concurrently.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxRetries sets the total number of attempts per payload.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBaseDelay sets the delay before the second attempt; each
// later attempt doubles it.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.baseDelay = d
		}
	}
}

// WithHoldingCapacity bounds the holding queue.
func WithHoldingCapacity(n int) Option {
	return func(s *Service) {
		s.holding = NewHoldingQueue(n)
	}
}

// WithHoldingMaxAge sets how long a held payload stays eligible for replay.
func WithHoldingMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithReplayInterval sets the pause between replayed payloads.
func WithReplayInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.replayInterval = d
		}
	}
}

// WithBreaker sets how many consecutive transport failures open the
// breaker and how long it stays open before probing.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(s *Service) {
		if failures > 0 {
			s.breakerFailures = failures
		}
		if timeout > 0 {
			s.breakerTimeout = timeout
		}
	}
}

// WithClock sets the clock used for retry waits and holding timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Sent     int64  `json:"sent"`
	Dropped  int64  `json:"dropped"`
	Retried  int64  `json:"retried"`
	Held     int64  `json:"held"`
	Replayed int64  `json:"replayed"`
	Expired  int64  `json:"expired"`
	Holding  int    `json:"holding"`
	Online   bool   `json:"online"`
	Breaker  string `json:"breaker"`
}

// Service delivers payloads. Each payload is delivered independently:
// 2xx is success, 4xx is dropped, 5xx and transport errors are retried
// and then parked in the holding queue.
type Service struct {
	transport *Transport
	breaker   *gobreaker.CircuitBreaker[*Response]
	holding   *HoldingQueue
	clock     clock.Clock
	logger    *slog.Logger

	batchSize       int
	maxRetries      int
	baseDelay       time.Duration
	maxAge          time.Duration
	replayInterval  time.Duration
	breakerFailures uint32
	breakerTimeout  time.Duration

	online    atomic.Bool
	replaying atomic.Bool

	sent, dropped, retried, held, replayed, expired atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a delivery service over transport.
func NewService(transport *Transport, opts ...Option) *Service {
	s := &Service{
		transport:       transport,
		holding:         NewHoldingQueue(DefaultHoldingCapacity),
		clock:           clock.Real(),
		logger:          slog.Default(),
		batchSize:       DefaultBatchSize,
		maxRetries:      DefaultMaxRetries,
		baseDelay:       DefaultRetryBaseDelay,
		maxAge:          DefaultHoldingMaxAge,
		replayInterval:  DefaultReplayInterval,
		breakerFailures: DefaultBreakerFailures,
		breakerTimeout:  DefaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "delivery")
	s.online.Store(true)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "collector",
		MaxRequests: 1,
		Timeout:     s.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			var connErr *ConnectionError
			return !errors.As(err, &connErr) || errors.Is(err, context.Canceled)
		},
		OnStateChange: s.onBreakerChange,
	})
	return s
}

// onBreakerChange runs under the breaker's lock; it must not call back
// into the breaker.
func (s *Service) onBreakerChange(_ string, from, to gobreaker.State) {
	s.logger.Info("collector breaker state changed", "from", from.String(), "to", to.String())
	if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
		s.replayAsync()
	}
}

// Send delivers batch in chunks of the batch size. Payloads inside a
// chunk are sent concurrently. It reports whether all were accepted.
func (s *Service) Send(ctx context.Context, batch []*event.Payload) bool {
	var failed atomic.Bool
	for start := 0; start < len(batch); start += s.batchSize {
		chunk := batch[start:min(start+s.batchSize, len(batch))]

		var g errgroup.Group
		for _, p := range chunk {
			p := p
			g.Go(func() error {
				if !s.deliver(ctx, p, time.Time{}) {
					failed.Store(true)
				}
				return nil
			})
		}
		g.Wait()
	}
	metrics.SetHoldingDepth(s.holding.Len())
	return !failed.Load()
}

// deliver sends one payload with retries. heldAt carries the original
// holding time when replaying so the age limit is not reset.
func (s *Service) deliver(ctx context.Context, p *event.Payload, heldAt time.Time) bool {
	body, err := json.Marshal(p)
	if err != nil {
		s.drop(p, "encode failed", err)
		return false
	}

	if !s.online.Load() {
		s.hold(p, heldAt, "offline")
		return false
	}

	b := s.newBackOff()
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := s.post(ctx, body)
		switch {
		case errors.Is(err, ErrOffline):
			s.hold(p, heldAt, "offline")
			return false
		case err == nil && resp.OK():
			s.sent.Add(1)
			metrics.RecordDelivery(metrics.OutcomeSent)
			return true
		case err == nil:
			lastErr = resp.Err()
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.Permanent() {
				s.drop(p, "rejected by collector", lastErr)
				return false
			}
		default:
			lastErr = err
		}

		if attempt >= s.maxRetries {
			break
		}

		delay := b.NextBackOff()
		s.retried.Add(1)
		metrics.RecordRetry()
		s.logger.Debug("delivery failed, retrying",
			"event", p.Name(),
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			s.hold(p, heldAt, "cancelled")
			return false
		}
	}

	s.logger.Warn("delivery failed, retries exhausted", "event", p.Name(), "attempts", s.maxRetries, "error", lastErr)
	s.hold(p, heldAt, "retries exhausted")
	return false
}

func (s *Service) post(ctx context.Context, body []byte) (*Response, error) {
	resp, err := s.breaker.Execute(func() (*Response, error) {
		return s.transport.Post(ctx, false, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOffline
	}
	return resp, err
}

// newBackOff returns a jitter-free exponential schedule: base, 2×base,
// 4×base and so on. Waiting is done on the service clock.
func (s *Service) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxRetryInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (s *Service) drop(p *event.Payload, reason string, err error) {
	s.dropped.Add(1)
	metrics.RecordDelivery(metrics.OutcomeDropped)
	s.logger.Warn("event dropped", "event", p.Name(), "reason", reason, "error", err)
}

func (s *Service) hold(p *event.Payload, heldAt time.Time, reason string) {
	if heldAt.IsZero() {
		heldAt = s.clock.Now()
	}
	if evicted := s.holding.Push(Held{Payload: p, HeldAt: heldAt, Reason: reason}); evicted > 0 {
		s.logger.Warn("holding queue full, dropped oldest", "evicted", evicted)
	}
	s.held.Add(1)
	metrics.RecordDelivery(metrics.OutcomeHeld)
	metrics.SetHoldingDepth(s.holding.Len())
}

// SetOnline records host connectivity. Going offline parks new payloads
// without network attempts; coming back online replays the holding queue.
func (s *Service) SetOnline(online bool) {
	was := s.online.Swap(online)
	if online == was {
		return
	}
	if online {
		s.logger.Info("connectivity restored")
		s.replayAsync()
		return
	}
	s.logger.Info("connectivity lost")
}

// Online reports host connectivity combined with the breaker state.
func (s *Service) Online() bool {
	return s.online.Load() && s.breaker.State() != gobreaker.StateOpen
}

func (s *Service) replayAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ReplayHolding(s.baseCtx)
	}()
}

// ReplayHolding re-sends held payloads, oldest first, pacing them by the
// replay interval. Entries older than the holding max age are discarded.
// Only one replay runs at a time; it returns how many were delivered.
func (s *Service) ReplayHolding(ctx context.Context) int {
	if !s.replaying.CompareAndSwap(false, true) {
		return 0
	}
	defer s.replaying.Store(false)

	entries := s.holding.DrainAll()
	if len(entries) == 0 {
		return 0
	}

	limiter := rate.NewLimiter(rate.Every(s.replayInterval), 1)
	now := s.clock.Now()
	delivered := 0

	for i, h := range entries {
		if now.Sub(h.HeldAt) > s.maxAge {
			s.expired.Add(1)
			metrics.RecordDelivery(metrics.OutcomeExpired)
			continue
		}
		if !s.online.Load() || limiter.Wait(ctx) != nil {
			s.requeue(entries[i:], now)
			break
		}
		if s.deliver(ctx, h.Payload, h.HeldAt) {
			delivered++
			s.replayed.Add(1)
			metrics.RecordDelivery(metrics.OutcomeReplayed)
		}
	}

	metrics.SetHoldingDepth(s.holding.Len())
	s.logger.Info("holding queue replayed", "delivered", delivered, "remaining", s.holding.Len())
	return delivered
}

// requeue returns the unsent tail of an interrupted replay to the head of
// the holding queue, ahead of anything parked while the replay ran.
func (s *Service) requeue(entries []Held, now time.Time) {
	keep := make([]Held, 0, len(entries))
	for _, h := range entries {
		if now.Sub(h.HeldAt) > s.maxAge {
			s.expired.Add(1)
			metrics.RecordDelivery(metrics.OutcomeExpired)
			continue
		}
		keep = append(keep, h)
	}
	if evicted := s.holding.PushFront(keep); evicted > 0 {
		s.logger.Warn("holding queue full, dropped oldest", "evicted", evicted)
	}
}

// Holding returns a snapshot of the holding queue.
func (s *Service) Holding() []Held {
	return s.holding.Snapshot()
}

// Stats returns the delivery counters.
func (s *Service) Stats() Stats {
	return Stats{
		Sent:     s.sent.Load(),
		Dropped:  s.dropped.Load(),
		Retried:  s.retried.Load(),
		Held:     s.held.Load(),
		Replayed: s.replayed.Load(),
		Expired:  s.expired.Load(),
		Holding:  s.holding.Len(),
		Online:   s.Online(),
		Breaker:  s.breaker.State().String(),
	}
}

// Close cancels background replays and detached validations and waits
// for them, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
