package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/queue"
	"github.com/filipexyz/beacon/internal/storage"
)

type tracked struct {
	name   string
	params map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []tracked
	accept bool
}

func (f *fakeEvents) Track(_ context.Context, name string, params map[string]any, _ queue.TrackOptions) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, tracked{name: name, params: params})
	return f.accept
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(execCtx event.ExecutionContext, accept bool, opts ...Option) (*Tracker, *fakeEvents, *clock.FakeClock, storage.Store) {
	events := &fakeEvents{accept: accept}
	clk := clock.Fake(epoch)
	store := storage.NewMemory()
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewTracker(execCtx, events, store, opts...), events, clk, store
}

func TestDuplicateSuppression(t *testing.T) {
	tr, events, clk, _ := newTestTracker(event.ContextPopup, true)
	ctx := context.Background()
	boom := errors.New("token refresh failed")

	assert.True(t, tr.Capture(ctx, boom))
	clk.Advance(time.Second)
	assert.False(t, tr.Capture(ctx, boom))
	clk.Advance(3 * time.Second)
	assert.False(t, tr.Capture(ctx, boom))
	assert.Equal(t, 1, events.count(), "repeats inside the window are suppressed")

	clk.Advance(2 * time.Second)
	assert.True(t, tr.Capture(ctx, boom))
	require.Equal(t, 2, events.count())
	assert.Equal(t, 2, events.events[1].params["repeat_count"])
}

func TestDistinctFailuresAreNotSuppressed(t *testing.T) {
	tr, events, _, _ := newTestTracker(event.ContextPopup, true)
	ctx := context.Background()

	tr.Capture(ctx, errors.New("first"))
	tr.Capture(ctx, errors.New("second"))
	tr.CapturePanic(ctx, "first")
	assert.Equal(t, 3, events.count())
}

func TestFingerprintCapacity(t *testing.T) {
	tr, _, _, _ := newTestTracker(event.ContextPopup, true)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		tr.Capture(ctx, fmt.Errorf("failure %d", i))
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Len(t, tr.seen, DefaultMaxFingerprints)
}

func TestForwardedParams(t *testing.T) {
	t.Run("background reports uptime", func(t *testing.T) {
		tr, events, clk, _ := newTestTracker(event.ContextBackground, true)
		clk.Advance(90 * time.Second)
		require.True(t, tr.Capture(context.Background(), errors.New("sync failed")))

		got := events.events[0]
		assert.Equal(t, EventName, got.name)
		assert.Equal(t, "Error", got.params["error_name"])
		assert.Equal(t, "sync failed", got.params["error_message"])
		assert.Equal(t, "background", got.params["context"])
		assert.Equal(t, int64(90), got.params["uptime_sec"])
		assert.NotEmpty(t, got.params["error_stack"])
		assert.NotContains(t, got.params, "page_url")
	})

	t.Run("foreground reports page details", func(t *testing.T) {
		info := func() HostInfo {
			return HostInfo{PageURL: "https://app.example.com/prompts?id=42#top", ReadyState: "complete"}
		}
		tr, events, _, _ := newTestTracker(event.ContextContentScript, true, WithHostInfo(info))
		require.True(t, tr.Capture(context.Background(), errors.New("render failed")))

		got := events.events[0]
		assert.Equal(t, "https://app.example.com/prompts", got.params["page_url"])
		assert.Equal(t, "complete", got.params["ready_state"])
		assert.NotContains(t, got.params, "uptime_sec")
	})
}

type quotaError struct{ limit int }

func (e *quotaError) Error() string { return fmt.Sprintf("quota %d exceeded", e.limit) }

func TestErrorName(t *testing.T) {
	assert.Equal(t, "Error", errorName(errors.New("x")))
	assert.Equal(t, "Error", errorName(fmt.Errorf("wrap: %w", errors.New("x"))))
	assert.Equal(t, "failure.quotaError", errorName(&quotaError{limit: 5}))
}

func TestRecoverCapturesPanic(t *testing.T) {
	tr, events, _, _ := newTestTracker(event.ContextPage, true)

	func() {
		defer tr.Recover(context.Background())
		panic("nil map write")
	}()

	require.Equal(t, 1, events.count())
	assert.Equal(t, "panic", events.events[0].params["error_name"])
	assert.Equal(t, "nil map write", events.events[0].params["error_message"])
}

func TestGoCapturesErrorsAndPanics(t *testing.T) {
	tr, events, _, _ := newTestTracker(event.ContextBackground, true)
	ctx := context.Background()

	tr.Go(ctx, func(context.Context) error { return errors.New("async failure") })
	tr.Go(ctx, func(context.Context) error { panic("async panic") })
	tr.Go(ctx, func(context.Context) error { return nil })
	tr.Wait()

	assert.Equal(t, 2, events.count())
}

//go:noinline
func failingOperation(ctx context.Context, tr *Tracker) bool {
	return tr.Capture(ctx, errors.New("quota exceeded"))
}

//go:noinline
func panickingOperation(context.Context) error {
	panic("sync cursor missing")
}

func TestStackStartsAtFailureSite(t *testing.T) {
	t.Run("captured error", func(t *testing.T) {
		tr, events, _, _ := newTestTracker(event.ContextPopup, true)
		require.True(t, failingOperation(context.Background(), tr))

		stack := events.events[0].params["error_stack"].(string)
		first, _, _ := strings.Cut(stack, "\n")
		assert.Contains(t, first, "failingOperation")
		assert.Contains(t, first, "tracker_test.go")
		assert.NotContains(t, stack, "runtime/debug")
		assert.NotContains(t, stack, "(*Tracker)")
	})

	t.Run("panic in Go", func(t *testing.T) {
		tr, events, _, _ := newTestTracker(event.ContextPopup, true)
		tr.Go(context.Background(), panickingOperation)
		tr.Wait()

		require.Equal(t, 1, events.count())
		stack := events.events[0].params["error_stack"].(string)
		first, _, _ := strings.Cut(stack, "\n")
		assert.Contains(t, first, "panickingOperation")
		assert.NotContains(t, stack, "runtime.")
		assert.NotContains(t, stack, "(*Tracker)")
	})
}

func TestMarkHandledReleasesFingerprint(t *testing.T) {
	tr, events, _, _ := newTestTracker(event.ContextPopup, true)
	ctx := context.Background()
	err := errors.New("fetch failed")

	tr.Capture(ctx, err)
	tr.MarkHandled(err)
	assert.True(t, tr.Capture(ctx, err))
	assert.Equal(t, 2, events.count())
}

func TestBackupWhenForwardingFails(t *testing.T) {
	tr, _, clk, _ := newTestTracker(event.ContextBackground, false)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		clk.Advance(time.Second)
		assert.False(t, tr.Capture(ctx, fmt.Errorf("failure %d", i)))
	}

	backups, err := tr.Backups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, "failure 2", backups[0].Message, "oldest entries are dropped")
	assert.Equal(t, "failure 6", backups[4].Message)
	assert.Equal(t, "background", backups[4].Context)

	require.NoError(t, tr.ClearBackups(ctx))
	backups, err = tr.Backups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestMessageIsSanitizedAndTruncated(t *testing.T) {
	tr, events, _, store := newTestTracker(event.ContextPopup, false)
	ctx := context.Background()

	msg := "user jane@example.com at 10.0.0.7 " + strings.Repeat("x", 600)
	tr.Capture(ctx, errors.New(msg))

	require.Equal(t, 1, events.count())
	var backups []Backup
	require.NoError(t, storage.GetJSON(ctx, store, storage.KeyErrorBackup, &backups))
	require.Len(t, backups, 1)
	got := backups[0].Message
	assert.Len(t, got, maxMessageLength)
	assert.True(t, strings.HasPrefix(got, "user [email] at [ip] "))
	assert.LessOrEqual(t, len(backups[0].Stack), maxStackLength)
}
