package queue

import (
	"testing"

	"github.com/filipexyz/beacon/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(name string) *event.Payload {
	return &event.Payload{ClientID: "c", Events: []event.Event{{Name: name}}}
}

func names(ps []*event.Payload) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

func TestQueueEvictsOldest(t *testing.T) {
	q := New(3)
	evicted := 0
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		evicted += q.Push(payload(n))
	}

	assert.Equal(t, 2, evicted)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"c", "d", "e"}, names(q.Snapshot()))
}

func TestQueueDrain(t *testing.T) {
	tests := []struct {
		name      string
		push      int
		drain     int
		wantCount int
		wantLeft  int
	}{
		{"partial", 5, 2, 2, 3},
		{"all with zero", 5, 0, 5, 0},
		{"more than queued", 2, 10, 2, 0},
		{"empty", 0, 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(10)
			for i := 0; i < tt.push; i++ {
				q.Push(payload(string(rune('a' + i))))
			}
			got := q.Drain(tt.drain)
			assert.Len(t, got, tt.wantCount)
			assert.Equal(t, tt.wantLeft, q.Len())
		})
	}
}

func TestQueueDrainPreservesOrder(t *testing.T) {
	q := New(10)
	for _, n := range []string{"a", "b", "c", "d"} {
		q.Push(payload(n))
	}
	assert.Equal(t, []string{"a", "b"}, names(q.Drain(2)))
	assert.Equal(t, []string{"c", "d"}, names(q.Drain(0)))
}

func TestQueueClear(t *testing.T) {
	q := New(0)
	require.Equal(t, DefaultCapacity, q.Capacity())
	q.Push(payload("a"))
	q.Push(payload("b"))
	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
}
