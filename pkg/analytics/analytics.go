// Package analytics is the host-facing entry point. Each execution
// context (background worker, popup, content script, page) builds its
// own Client; contexts share nothing but the storage substrate.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgraph-io/badger/v4"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/config"
	"github.com/filipexyz/beacon/internal/delivery"
	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/failure"
	"github.com/filipexyz/beacon/internal/identity"
	"github.com/filipexyz/beacon/internal/queue"
	"github.com/filipexyz/beacon/internal/storage"
)

// ExecutionContext re-exports the context kinds hosts construct with.
type ExecutionContext = event.ExecutionContext

const (
	Background    = event.ContextBackground
	Popup         = event.ContextPopup
	ContentScript = event.ContextContentScript
	Page          = event.ContextPage
)

// TrackOptions tune a single tracking call.
type TrackOptions = queue.TrackOptions

// HostInfo describes the document a foreground context runs in.
type HostInfo = failure.HostInfo

// ErrInvalidContext is returned by New for an unknown execution context.
var ErrInvalidContext = errors.New("invalid execution context")

type options struct {
	areas      *storage.Areas
	clock      clock.Clock
	logger     *slog.Logger
	httpClient *http.Client
	hostInfo   func() HostInfo
	engagement *event.EngagementTable
}

// Option configures a Client.
type Option func(*options)

// WithStorage sets the storage areas. Without it the durable area is a
// badger database under Config.DataDir (in memory when empty) and the
// session area lives in memory.
func WithStorage(areas storage.Areas) Option {
	return func(o *options) {
		o.areas = &areas
	}
}

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithHTTPClient sets the HTTP client used to reach the collector.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithHostInfo supplies page details reported with foreground failures.
func WithHostInfo(f func() HostInfo) Option {
	return func(o *options) {
		o.hostInfo = f
	}
}

// WithEngagementTable replaces the engagement defaults table.
func WithEngagementTable(t *event.EngagementTable) Option {
	return func(o *options) {
		o.engagement = t
	}
}

// Client wires identity, batching, delivery and failure tracking for one
// execution context.
type Client struct {
	execCtx ExecutionContext
	cfg     config.Config
	logger  *slog.Logger

	db    *badger.DB
	areas storage.Areas

	clients    *identity.ClientManager
	sessions   *identity.SessionManager
	properties *identity.PropertyStore
	delivery   *delivery.Service
	batcher    *queue.Batcher
	failures   *failure.Tracker
}

// New builds a Client. Missing credentials are not an error: the client
// runs, but every tracking call returns false.
func New(execCtx ExecutionContext, cfg config.Config, opts ...Option) (*Client, error) {
	if !execCtx.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContext, execCtx)
	}

	o := &options{
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		execCtx: execCtx,
		cfg:     cfg,
		logger:  o.logger.With("context", string(execCtx)),
	}

	if o.areas != nil {
		c.areas = *o.areas
	} else {
		db, err := storage.OpenBadger(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		c.db = db
		c.areas = storage.Areas{
			Durable: storage.NewBadger(db, "durable:"),
			Session: storage.NewMemory(),
		}
	}

	engagement := o.engagement
	if engagement == nil && cfg.EngagementFile != "" {
		t, err := event.LoadEngagementTable(cfg.EngagementFile)
		if err != nil {
			c.closeStorage()
			return nil, err
		}
		engagement = t
	}

	if err := cfg.Validate(); err != nil {
		c.logger.Warn("analytics disabled", "error", err)
	}

	transportOpts := []delivery.TransportOption{
		delivery.WithEndpoint(cfg.Endpoint),
		delivery.WithDebugEndpoint(cfg.DebugEndpoint),
	}
	if o.httpClient != nil {
		transportOpts = append(transportOpts, delivery.WithHTTPClient(o.httpClient))
	}
	transportOpts = append(transportOpts, delivery.WithTimeout(cfg.RequestTimeout))

	c.clients = identity.NewClientManager(c.areas.Durable, identity.WithClientLogger(c.logger))
	c.sessions = identity.NewSessionManager(c.areas.Session,
		identity.WithSessionClock(o.clock),
		identity.WithSessionLogger(c.logger),
		identity.WithExpirationWindow(cfg.SessionWindow),
	)
	c.properties = identity.NewPropertyStore(c.areas.Durable, c.logger)

	c.delivery = delivery.NewService(
		delivery.NewTransport(cfg.MeasurementID, cfg.APISecret, transportOpts...),
		delivery.WithBatchSize(cfg.BatchSize),
		delivery.WithMaxRetries(cfg.MaxRetries),
		delivery.WithRetryBaseDelay(cfg.RetryBaseDelay),
		delivery.WithHoldingCapacity(cfg.HoldingCapacity),
		delivery.WithHoldingMaxAge(cfg.HoldingMaxAge),
		delivery.WithReplayInterval(cfg.ReplayInterval),
		delivery.WithClock(o.clock),
		delivery.WithLogger(c.logger),
	)

	c.batcher = queue.NewBatcher(c.delivery, c.clients, c.sessions,
		queue.WithBatchSize(cfg.BatchSize),
		queue.WithCapacity(cfg.QueueCapacity),
		queue.WithFlushDelay(cfg.FlushDelay),
		queue.WithClock(o.clock),
		queue.WithLogger(c.logger),
		queue.WithEngagementTable(engagement),
		queue.WithUserProperties(c.properties),
		queue.WithDebug(c.delivery, cfg.Debug),
		queue.WithEnvironmentCheck(cfg.Validate),
	)

	failureOpts := []failure.Option{
		failure.WithClock(o.clock),
		failure.WithLogger(c.logger),
	}
	if o.hostInfo != nil {
		failureOpts = append(failureOpts, failure.WithHostInfo(o.hostInfo))
	}
	c.failures = failure.NewTracker(execCtx, c.batcher, c.areas.Durable, failureOpts...)

	return c, nil
}

// Context returns the execution context this client was built for.
func (c *Client) Context() ExecutionContext {
	return c.execCtx
}

// TrackEvent queues a custom event. It returns false when the event was
// not accepted; it never panics.
func (c *Client) TrackEvent(ctx context.Context, name string, params map[string]any, opts TrackOptions) bool {
	return c.batcher.Track(ctx, name, params, opts)
}

// TrackPageView records a page_view.
func (c *Client) TrackPageView(ctx context.Context, title, location string) bool {
	return c.TrackEvent(ctx, "page_view", map[string]any{
		"page_title":    title,
		"page_location": location,
	}, TrackOptions{})
}

// TrackSearch records a search and how many results it produced.
func (c *Client) TrackSearch(ctx context.Context, term string, results int) bool {
	return c.TrackEvent(ctx, "search", map[string]any{
		"search_term":   term,
		"results_count": results,
	}, TrackOptions{})
}

// TrackEngagement records a user_engagement of the given kind.
func (c *Client) TrackEngagement(ctx context.Context, kind string, params map[string]any) bool {
	p := copyParams(params)
	p["engagement_type"] = kind
	return c.TrackEvent(ctx, "user_engagement", p, TrackOptions{})
}

// TrackConversion records a conversion with an optional value.
func (c *Client) TrackConversion(ctx context.Context, kind string, value float64, params map[string]any) bool {
	p := copyParams(params)
	p["conversion_type"] = kind
	p["value"] = value
	return c.TrackEvent(ctx, "conversion", p, TrackOptions{})
}

// TrackError records a handled error as an exception event. Unhandled
// failures go through Failures instead.
func (c *Client) TrackError(ctx context.Context, err error, fatal bool) bool {
	if err == nil {
		return false
	}
	return c.TrackEvent(ctx, "exception", map[string]any{
		"description": failure.NewSanitizer().Sanitize(err.Error()),
		"fatal":       fatal,
	}, TrackOptions{})
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Validate assembles an event without queuing it and sends it to the
// debug endpoint.
func (c *Client) Validate(ctx context.Context, name string, params map[string]any) (*event.Payload, *delivery.DebugResponse, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	p, err := c.batcher.Build(ctx, name, params, TrackOptions{})
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.delivery.ValidateEvent(ctx, p)
	return p, resp, err
}

// SetUserProperty stores a user property sent with every later event. A
// nil value removes it.
func (c *Client) SetUserProperty(ctx context.Context, name string, value any) bool {
	return c.properties.Set(ctx, name, value)
}

// UserProperties returns the stored user properties.
func (c *Client) UserProperties(ctx context.Context) map[string]any {
	return c.properties.All(ctx)
}

// ClientID returns the durable client id.
func (c *Client) ClientID(ctx context.Context) string {
	return c.clients.GetOrCreateClientID(ctx)
}

// Sessions exposes the session manager.
func (c *Client) Sessions() *identity.SessionManager {
	return c.sessions
}

// Failures exposes the failure tracker for this context.
func (c *Client) Failures() *failure.Tracker {
	return c.failures
}

// Pending returns the events waiting to be sent.
func (c *Client) Pending() []*event.Payload {
	return c.batcher.Pending()
}

// Stats returns delivery counters.
func (c *Client) Stats() delivery.Stats {
	return c.delivery.Stats()
}

// SetOnline reports host connectivity.
func (c *Client) SetOnline(online bool) {
	c.delivery.SetOnline(online)
}

// Flush sends every pending event now.
func (c *Client) Flush(ctx context.Context) bool {
	return c.batcher.Flush(ctx)
}

// ResetIdentity discards pending events, user properties and the
// session, and mints a new client id.
func (c *Client) ResetIdentity(ctx context.Context) string {
	c.batcher.ClearQueue()
	c.properties.Clear(ctx)
	c.sessions.ClearSession(ctx)
	return c.clients.Regenerate(ctx)
}

// Close flushes pending events and releases resources. Events tracked
// after Close are rejected. Goroutines started with Failures().Go finish
// first so their failures are still forwarded.
func (c *Client) Close(ctx context.Context) error {
	c.failures.Wait()
	c.batcher.Close(ctx)
	err := c.delivery.Close(ctx)
	if cerr := c.closeStorage(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (c *Client) closeStorage() error {
	if c.db == nil {
		return nil
	}
	db := c.db
	c.db = nil
	return db.Close()
}
