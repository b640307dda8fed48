// Package failure captures unhandled errors and panics from an execution
// context, suppresses repeats and forwards them as analytics events.
package failure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/metrics"
	"github.com/filipexyz/beacon/internal/queue"
	"github.com/filipexyz/beacon/internal/storage"
)

const (
	// EventName is the analytics event failures are reported as.
	EventName = "extension_error"

	DefaultDuplicateWindow = 5 * time.Second
	DefaultMaxFingerprints = 10
	MaxBackups             = 5

	maxMessageLength = 500
	maxStackLength   = 1000
	maxStackFrames   = 32
)

// Outcomes recorded per captured failure.
const (
	OutcomeForwarded  = "forwarded"
	OutcomeSuppressed = "suppressed"
	OutcomeBackedUp   = "backed_up"
	OutcomeHandled    = "handled"
)

// EventTracker is the sink failures are forwarded to.
type EventTracker interface {
	Track(ctx context.Context, name string, params map[string]any, opts queue.TrackOptions) bool
}

// HostInfo describes the document a foreground context runs in.
type HostInfo struct {
	PageURL    string
	ReadyState string
}

// Failure is a normalized error.
type Failure struct {
	Name    string
	Message string
	Stack   string
}

// Backup is a failure that could not be forwarded.
type Backup struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Stack     string `json:"stack"`
	Context   string `json:"context"`
	Timestamp int64  `json:"timestamp"`
}

type fingerprint struct {
	firstSeen time.Time
	repeats   int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithHostInfo supplies page details for foreground contexts.
func WithHostInfo(f func() HostInfo) Option {
	return func(t *Tracker) {
		t.hostInfo = f
	}
}

// WithDuplicateWindow sets how long identical failures are suppressed.
func WithDuplicateWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// Tracker captures failures for one execution context.
type Tracker struct {
	execCtx   event.ExecutionContext
	events    EventTracker
	durable   storage.Store
	clock     clock.Clock
	logger    *slog.Logger
	sanitizer *Sanitizer
	hostInfo  func() HostInfo

	window  time.Duration
	maxSeen int
	started time.Time

	mu   sync.Mutex
	seen map[string]*fingerprint

	backupMu sync.Mutex
	wg       sync.WaitGroup
}

// NewTracker creates a tracker for execCtx. Failures go to events; the
// durable store keeps the last-resort backup list.
func NewTracker(execCtx event.ExecutionContext, events EventTracker, durable storage.Store, opts ...Option) *Tracker {
	t := &Tracker{
		execCtx:   execCtx,
		events:    events,
		durable:   durable,
		clock:     clock.Real(),
		logger:    slog.Default(),
		sanitizer: NewSanitizer(),
		window:    DefaultDuplicateWindow,
		maxSeen:   DefaultMaxFingerprints,
		seen:      make(map[string]*fingerprint),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "failure_tracker", "context", string(execCtx))
	t.started = t.clock.Now()
	return t
}

// Capture reports an unhandled error. It returns true when an event was
// forwarded.
func (t *Tracker) Capture(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return t.report(ctx, t.normalize(errorName(err), err.Error()))
}

// CapturePanic reports a recovered panic value.
func (t *Tracker) CapturePanic(ctx context.Context, r any) bool {
	if err, ok := r.(error); ok {
		return t.report(ctx, t.normalize("panic", err.Error()))
	}
	return t.report(ctx, t.normalize("panic", fmt.Sprint(r)))
}

// Recover must be deferred directly; it captures a panic and stops it.
func (t *Tracker) Recover(ctx context.Context) {
	if r := recover(); r != nil {
		t.CapturePanic(ctx, r)
	}
}

// Go runs fn in a goroutine, capturing its error or panic.
func (t *Tracker) Go(ctx context.Context, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.Recover(ctx)
		if err := fn(ctx); err != nil {
			t.Capture(ctx, err)
		}
	}()
}

// Wait blocks until every goroutine started by Go has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// MarkHandled records that a previously captured failure was recovered
// later; its fingerprint is released so a new occurrence is reported.
func (t *Tracker) MarkHandled(err error) {
	if err == nil {
		return
	}
	f := t.normalize(errorName(err), err.Error())
	t.mu.Lock()
	delete(t.seen, t.key(f))
	t.mu.Unlock()

	metrics.RecordFailure(string(t.execCtx), OutcomeHandled)
	t.logger.Info("failure handled after capture", "name", f.Name, "message", f.Message)
}

func (t *Tracker) normalize(name, message string) Failure {
	return Failure{
		Name:    name,
		Message: truncate(t.sanitizer.Sanitize(message), maxMessageLength),
		Stack:   truncate(t.sanitizer.Sanitize(callerStack()), maxStackLength),
	}
}

// trackerFrames prefixes the function names of Tracker methods and the
// closures they start.
var trackerFrames = reflect.TypeOf(Tracker{}).PkgPath() + ".(*Tracker)."

// callerStack lists the frames that led to the failure, innermost first,
// one "function (file:line)" per line. Runtime and Tracker frames are left
// out so a recovered panic starts at the panicking function.
func callerStack() string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") && !strings.HasPrefix(frame.Function, trackerFrames) {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fn := frame.Function
			if i := strings.LastIndex(fn, "/"); i >= 0 {
				fn = fn[i+1:]
			}
			fmt.Fprintf(&b, "%s (%s:%d)", fn, filepath.Base(frame.File), frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

func (t *Tracker) key(f Failure) string {
	return string(t.execCtx) + "|" + f.Name + "|" + f.Message
}

func (t *Tracker) report(ctx context.Context, f Failure) bool {
	now := t.clock.Now()
	key := t.key(f)

	t.mu.Lock()
	fp, ok := t.seen[key]
	if ok && now.Sub(fp.firstSeen) < t.window {
		fp.repeats++
		t.mu.Unlock()
		metrics.RecordFailure(string(t.execCtx), OutcomeSuppressed)
		t.logger.Debug("duplicate failure suppressed", "name", f.Name, "repeats", fp.repeats)
		return false
	}
	repeats := 0
	if ok {
		repeats = fp.repeats
	}
	t.evictLocked(now)
	t.seen[key] = &fingerprint{firstSeen: now}
	t.mu.Unlock()

	t.logger.Warn("unhandled failure", "name", f.Name, "message", f.Message)

	params := map[string]any{
		"error_name":    f.Name,
		"error_message": f.Message,
		"error_stack":   f.Stack,
		"context":       string(t.execCtx),
		"repeat_count":  repeats,
	}
	t.addContextMetadata(params, now)

	if t.events != nil && t.events.Track(ctx, EventName, params, queue.TrackOptions{}) {
		metrics.RecordFailure(string(t.execCtx), OutcomeForwarded)
		return true
	}

	t.backup(ctx, f, now)
	return false
}

// evictLocked drops expired fingerprints, then the oldest until a new
// one fits.
func (t *Tracker) evictLocked(now time.Time) {
	for k, fp := range t.seen {
		if now.Sub(fp.firstSeen) >= t.window {
			delete(t.seen, k)
		}
	}
	for len(t.seen) >= t.maxSeen {
		var oldestKey string
		var oldest time.Time
		for k, fp := range t.seen {
			if oldestKey == "" || fp.firstSeen.Before(oldest) {
				oldestKey, oldest = k, fp.firstSeen
			}
		}
		delete(t.seen, oldestKey)
	}
}

func (t *Tracker) addContextMetadata(params map[string]any, now time.Time) {
	if t.execCtx == event.ContextBackground {
		params["uptime_sec"] = int64(now.Sub(t.started).Seconds())
		return
	}
	if t.hostInfo == nil {
		return
	}
	info := t.hostInfo()
	if u := PageURL(info.PageURL); u != "" {
		params["page_url"] = u
	}
	if info.ReadyState != "" {
		params["ready_state"] = info.ReadyState
	}
}

func (t *Tracker) backup(ctx context.Context, f Failure, now time.Time) {
	t.backupMu.Lock()
	defer t.backupMu.Unlock()

	if t.durable == nil {
		return
	}

	list, err := t.loadBackups(ctx)
	if err != nil {
		t.logger.Error("failed to read failure backups", "error", err)
		list = nil
	}
	list = append(list, Backup{
		Name:      f.Name,
		Message:   f.Message,
		Stack:     f.Stack,
		Context:   string(t.execCtx),
		Timestamp: now.UnixMilli(),
	})
	if len(list) > MaxBackups {
		list = list[len(list)-MaxBackups:]
	}

	if err := storage.SetJSON(ctx, t.durable, storage.KeyErrorBackup, list); err != nil {
		t.logger.Error("failed to back up failure", "error", err)
		return
	}
	metrics.RecordFailure(string(t.execCtx), OutcomeBackedUp)
}

func (t *Tracker) loadBackups(ctx context.Context) ([]Backup, error) {
	var list []Backup
	err := storage.GetJSON(ctx, t.durable, storage.KeyErrorBackup, &list)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return list, err
}

// Backups returns the failures that could not be forwarded, oldest first.
func (t *Tracker) Backups(ctx context.Context) ([]Backup, error) {
	t.backupMu.Lock()
	defer t.backupMu.Unlock()
	return t.loadBackups(ctx)
}

// ClearBackups removes the backup list.
func (t *Tracker) ClearBackups(ctx context.Context) error {
	t.backupMu.Lock()
	defer t.backupMu.Unlock()
	return t.durable.Remove(ctx, storage.KeyErrorBackup)
}

// errorName derives a short type name for err.
func errorName(err error) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	switch name {
	case "errors.errorString", "fmt.wrapError", "fmt.wrapErrors", "errors.joinError":
		return "Error"
	}
	return name
}
