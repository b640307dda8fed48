package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a Store, counts writes and can block reads until
// released.
type countingStore struct {
	storage.Store
	sets    atomic.Int32
	gate    chan struct{}
	getErr  error
	setErr  error
	readers atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{Store: storage.NewMemory()}
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.readers.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	s.sets.Add(1)
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

func TestClientIDConcurrentCallsShareInitialization(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.gate = make(chan struct{})
	m := NewClientManager(store)

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = m.GetOrCreateClientID(ctx)
		}(i)
	}

	// Let the goroutines pile up on the in-flight load before releasing it.
	require.Eventually(t, func() bool { return store.readers.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, int32(1), store.sets.Load(), "exactly one durable write")
	assert.Equal(t, int32(1), store.readers.Load(), "exactly one storage read")
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.True(t, IsUUID(ids[0]))
	assert.True(t, m.Persisted())
}

func TestClientIDLoadsExisting(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	existing := "6f1c2a4e-8d3b-4c5a-9e7f-1a2b3c4d5e6f"
	require.NoError(t, store.Set(ctx, storage.KeyClientID, []byte(existing)))

	m := NewClientManager(store)
	assert.Equal(t, existing, m.GetOrCreateClientID(ctx))
}

func TestClientIDReplacesMalformed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.Set(ctx, storage.KeyClientID, []byte("not-a-uuid")))

	m := NewClientManager(store)
	id := m.GetOrCreateClientID(ctx)
	assert.True(t, IsUUID(id))

	stored, err := store.Get(ctx, storage.KeyClientID)
	require.NoError(t, err)
	assert.Equal(t, id, string(stored))
}

func TestClientIDStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.getErr = errors.New("storage offline")

	m := NewClientManager(store)
	id := m.GetOrCreateClientID(ctx)

	assert.True(t, IsUUID(id))
	assert.Equal(t, int32(0), store.sets.Load(), "fallback id is never persisted")
	assert.False(t, m.Persisted())
	assert.Equal(t, id, m.GetOrCreateClientID(ctx), "fallback id is stable for the process")
}

func TestClientIDCanceledFirstCallerStillPersists(t *testing.T) {
	store := storage.NewMemory()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewClientManager(store)
	id := m.GetOrCreateClientID(canceled)
	require.True(t, IsUUID(id))
	assert.True(t, m.Persisted())

	next := NewClientManager(store)
	assert.Equal(t, id, next.GetOrCreateClientID(context.Background()), "next process reads the same id")
}

func TestClientIDWriteFailureKeepsMemoryID(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.setErr = errors.New("quota exceeded")

	m := NewClientManager(store)
	id := m.GetOrCreateClientID(ctx)
	assert.True(t, IsUUID(id))
	assert.False(t, m.Persisted())
}

func TestClientIDGeneratorFallback(t *testing.T) {
	ctx := context.Background()
	var used []string
	gens := []Generator{
		{Name: "broken", New: func() (string, error) { used = append(used, "broken"); return "", errors.New("no entropy") }},
		{Name: "garbage", New: func() (string, error) { used = append(used, "garbage"); return "xyz", nil }},
		{Name: "crypto-bytes", New: func() (string, error) { used = append(used, "crypto-bytes"); return newCryptoBytesUUID() }},
	}

	m := NewClientManager(storage.NewMemory(), WithGenerators(gens...))
	id := m.GetOrCreateClientID(ctx)

	assert.True(t, IsUUID(id))
	assert.Equal(t, []string{"broken", "garbage", "crypto-bytes"}, used)
}

func TestDefaultGeneratorsProduceV4(t *testing.T) {
	for _, g := range DefaultGenerators() {
		t.Run(g.Name, func(t *testing.T) {
			id, err := g.New()
			require.NoError(t, err)
			require.True(t, IsUUID(id), id)
			assert.Equal(t, byte('4'), id[14], "version nibble")
			assert.Contains(t, "89ab", string(id[19]), "variant nibble")
		})
	}
}

func TestClientIDRegenerateAndClear(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := NewClientManager(store)

	first := m.GetOrCreateClientID(ctx)
	second := m.Regenerate(ctx)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, m.GetOrCreateClientID(ctx))

	stored, err := store.Get(ctx, storage.KeyClientID)
	require.NoError(t, err)
	assert.Equal(t, second, string(stored))

	m.Clear(ctx)
	_, err = store.Get(ctx, storage.KeyClientID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	third := m.GetOrCreateClientID(ctx)
	assert.NotEqual(t, second, third)
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, store storage.Store, id string, ts time.Time) {
	t.Helper()
	require.NoError(t, storage.SetJSON(context.Background(), store, storage.KeySessionData, Session{ID: id, Timestamp: ts.UnixMilli()}))
}

func TestSessionSlidingExpiration(t *testing.T) {
	ctx := context.Background()
	window := DefaultSessionWindow

	t.Run("just inside window is refreshed", func(t *testing.T) {
		clk := clock.Fake(start)
		store := storage.NewMemory()
		seedSession(t, store, "existing", start.Add(-(window - time.Millisecond)))

		m := NewSessionManager(store, WithSessionClock(clk))
		assert.Equal(t, "existing", m.GetOrCreateSessionID(ctx))

		var s Session
		require.NoError(t, storage.GetJSON(ctx, store, storage.KeySessionData, &s))
		assert.Equal(t, start.UnixMilli(), s.Timestamp, "timestamp slides to now")
		assert.Equal(t, "existing", s.ID)
	})

	t.Run("just outside window starts a new session", func(t *testing.T) {
		clk := clock.Fake(start)
		store := storage.NewMemory()
		seedSession(t, store, "stale", start.Add(-(window + time.Millisecond)))

		m := NewSessionManager(store, WithSessionClock(clk))
		id := m.GetOrCreateSessionID(ctx)
		assert.NotEqual(t, "stale", id)
		assert.Equal(t, strconv.FormatInt(start.UnixMilli(), 10), id)

		var s Session
		require.NoError(t, storage.GetJSON(ctx, store, storage.KeySessionData, &s))
		assert.Equal(t, id, s.ID)
	})
}

func TestSessionKeepsSlidingWithActivity(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(start)
	m := NewSessionManager(storage.NewMemory(), WithSessionClock(clk), WithExpirationWindow(10*time.Minute))

	id := m.GetOrCreateSessionID(ctx)
	for i := 0; i < 5; i++ {
		clk.Advance(9 * time.Minute)
		assert.Equal(t, id, m.GetOrCreateSessionID(ctx), "activity keeps the session alive")
	}

	clk.Advance(10*time.Minute + time.Millisecond)
	assert.True(t, m.IsSessionExpired())
	assert.NotEqual(t, id, m.GetOrCreateSessionID(ctx))
}

func TestSessionDerivations(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(start)
	m := NewSessionManager(storage.NewMemory(), WithSessionClock(clk))

	assert.True(t, m.IsSessionExpired())
	assert.Zero(t, m.SessionAge())
	assert.Zero(t, m.SessionTimeRemaining())

	m.GetOrCreateSessionID(ctx)
	clk.Advance(10 * time.Minute)

	assert.False(t, m.IsSessionExpired())
	assert.Equal(t, 10*time.Minute, m.SessionAge())
	assert.Equal(t, 20*time.Minute, m.SessionTimeRemaining())

	m.SetExpirationWindow(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, m.ExpirationWindow())
	assert.True(t, m.IsSessionExpired())
	assert.Zero(t, m.SessionTimeRemaining())

	m.SetExpirationWindow(-time.Second)
	assert.Equal(t, 5*time.Minute, m.ExpirationWindow())
}

func TestSessionPeekDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(start)
	store := storage.NewMemory()
	seedSession(t, store, "stored", start.Add(-time.Minute))

	m := NewSessionManager(store, WithSessionClock(clk))
	s, ok := m.Peek(ctx)
	require.True(t, ok)
	assert.Equal(t, "stored", s.ID)
	assert.Equal(t, start.Add(-time.Minute).UnixMilli(), s.Timestamp)

	clk.Advance(DefaultSessionWindow)
	s, ok = m.Peek(ctx)
	assert.False(t, ok, "expired session is reported but not valid")
	assert.Equal(t, "stored", s.ID)

	empty := NewSessionManager(storage.NewMemory(), WithSessionClock(clk))
	_, ok = empty.Peek(ctx)
	assert.False(t, ok)
}

func TestSessionCanceledFirstCallerKeepsStoredSession(t *testing.T) {
	clk := clock.Fake(start)
	store := storage.NewMemory()
	seedSession(t, store, "existing", start.Add(-time.Minute))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewSessionManager(store, WithSessionClock(clk))
	assert.Equal(t, "existing", m.GetOrCreateSessionID(canceled))
	assert.Equal(t, "existing", m.GetOrCreateSessionID(context.Background()))
}

func TestSessionRegenerateAndClear(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(start)
	store := storage.NewMemory()
	m := NewSessionManager(store, WithSessionClock(clk))

	first := m.GetOrCreateSessionID(ctx)
	clk.Advance(time.Second)
	second := m.RegenerateSession(ctx)
	assert.NotEqual(t, first, second)

	m.ClearSession(ctx)
	_, ok := m.Current()
	assert.False(t, ok)
	_, err := store.Get(ctx, storage.KeySessionData)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionConcurrentLoadReadsOnce(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.gate = make(chan struct{})
	m := NewSessionManager(store, WithSessionClock(clock.Fake(start)))

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = m.GetOrCreateSessionID(ctx)
		}(i)
	}

	require.Eventually(t, func() bool { return store.readers.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, int32(1), store.readers.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestSessionStorageFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.getErr = errors.New("unavailable")
	store.setErr = errors.New("unavailable")

	clk := clock.Fake(start)
	m := NewSessionManager(store, WithSessionClock(clk))

	id := m.GetOrCreateSessionID(ctx)
	assert.NotEmpty(t, id)
	clk.Advance(time.Minute)
	assert.Equal(t, id, m.GetOrCreateSessionID(ctx))
}

func TestPropertyStore(t *testing.T) {
	ctx := context.Background()
	p := NewPropertyStore(storage.NewMemory(), nil)

	assert.Empty(t, p.All(ctx))
	assert.True(t, p.Set(ctx, "plan", "pro"))
	assert.True(t, p.Set(ctx, "theme", "dark"))
	assert.False(t, p.Set(ctx, "1bad", "x"))

	props := p.UserProperties(ctx)
	require.Len(t, props, 2)
	assert.Equal(t, "pro", props["plan"].Value)

	assert.True(t, p.Set(ctx, "theme", nil))
	assert.Len(t, p.All(ctx), 1)

	p.Clear(ctx)
	assert.Empty(t, p.All(ctx))
}
