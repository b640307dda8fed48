package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadgerAreas(t *testing.T) Areas {
	t.Helper()
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBadgerAreas(db)
}

func TestStores(t *testing.T) {
	impls := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"badger": func(t *testing.T) Store { return newBadgerAreas(t).Durable },
	}

	for name, mk := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			_, err := s.Get(ctx, KeyClientID)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, KeyClientID, []byte("abc")))
			got, err := s.Get(ctx, KeyClientID)
			require.NoError(t, err)
			assert.Equal(t, "abc", string(got))

			require.NoError(t, s.Set(ctx, KeyClientID, []byte("def")))
			got, err = s.Get(ctx, KeyClientID)
			require.NoError(t, err)
			assert.Equal(t, "def", string(got), "last writer wins")

			require.NoError(t, s.Remove(ctx, KeyClientID))
			_, err = s.Get(ctx, KeyClientID)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Remove(ctx, "never-set"))
		})
	}
}

func TestBadgerAreasAreIsolated(t *testing.T) {
	ctx := context.Background()
	areas := newBadgerAreas(t)

	require.NoError(t, areas.Durable.Set(ctx, "k", []byte("durable")))
	require.NoError(t, areas.Session.Set(ctx, "k", []byte("session")))

	d, err := areas.Durable.Get(ctx, "k")
	require.NoError(t, err)
	s, err := areas.Session.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "durable", string(d))
	assert.Equal(t, "session", string(s))

	require.NoError(t, areas.Session.(*Badger).ClearNamespace())
	_, err = areas.Session.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = areas.Durable.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type record struct {
		ID        string `json:"session_id"`
		Timestamp int64  `json:"timestamp"`
	}

	require.NoError(t, SetJSON(ctx, s, KeySessionData, record{ID: "1700", Timestamp: 1700}))

	var got record
	require.NoError(t, GetJSON(ctx, s, KeySessionData, &got))
	assert.Equal(t, record{ID: "1700", Timestamp: 1700}, got)

	require.NoError(t, s.Set(ctx, "broken", []byte("{")))
	err := GetJSON(ctx, s, "broken", &got)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemory()
	assert.ErrorIs(t, s.Set(ctx, "k", nil), context.Canceled)
}
